package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/fetcher"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/store"
	"github.com/sells-group/credverify/internal/verify"
)

var errBadRequest = eris.New("server: bad request")

func badRequest(format string, args ...any) error {
	return eris.Wrapf(errBadRequest, format, args...)
}

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

type verifyBody struct {
	Name       string `json:"name"`
	Institute  string `json:"institute"`
	Score      string `json:"score"`
	BinaryHash string `json:"binary_hash"`
	Wallet     string `json:"wallet"`
	Email      string `json:"email"`
}

func (b verifyBody) fields() model.Fields {
	return model.Fields{
		Name:      model.StringPtr(b.Name),
		Institute: model.StringPtr(b.Institute),
		Score:     model.StringPtr(b.Score),
	}
}

func (b verifyBody) identity() model.Identity {
	return model.Identity{Wallet: strings.TrimSpace(b.Wallet), Email: strings.TrimSpace(b.Email)}
}

type adminVerifyBody struct {
	CorpusRecordID string `json:"corpus_record_id"`
	Fingerprint    string `json:"fingerprint"`
	Wallet         string `json:"wallet"`
	Email          string `json:"email"`
}

func (s *Server) maxUpload() int64 {
	mb := s.cfg.MaxUploadMB
	if mb <= 0 {
		mb = 20
	}
	return int64(mb) << 20
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit != nil {
		if err := s.deps.Audit.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())

	var (
		body verifyBody
		doc  *verify.Document
	)
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, r, wrapBody(err), nil)
			return
		}
		body = verifyBody{
			Name:       r.FormValue("name"),
			Institute:  r.FormValue("institute"),
			Score:      r.FormValue("score"),
			BinaryHash: r.FormValue("binary_hash"),
			Wallet:     r.FormValue("wallet"),
			Email:      r.FormValue("email"),
		}
		var err error
		doc, err = formDocument(r, "document", false)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, wrapBody(err), nil)
		return
	}

	who := body.identity()
	out, err := s.deps.Verifier.VerifyDocument(r.Context(), verify.Request{
		Document:   doc,
		Fields:     body.fields(),
		BinaryHash: body.BinaryHash,
		Identity:   who,
		Actor:      "self:" + who.Subject(),
		Mode:       verify.ModeSelf,
	})
	if err != nil {
		writeError(w, r, err, &out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyPublic(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if !isMultipart(r) {
		writeError(w, r, badRequest("multipart form with a document is required"), nil)
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, wrapBody(err), nil)
		return
	}
	doc, err := formDocument(r, "document", true)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	var who *model.Identity
	if wallet := strings.TrimSpace(r.FormValue("wallet")); wallet != "" {
		who = &model.Identity{Wallet: wallet}
	}
	out, err := s.deps.Verifier.VerifyPublic(r.Context(), doc.Data, doc.Filename, r.FormValue("email"), who)
	if err != nil {
		writeError(w, r, err, &out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())

	var (
		body adminVerifyBody
		sel  verify.AdminSelection
	)
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, r, wrapBody(err), nil)
			return
		}
		body = adminVerifyBody{
			CorpusRecordID: r.FormValue("corpus_record_id"),
			Fingerprint:    r.FormValue("fingerprint"),
			Wallet:         r.FormValue("wallet"),
			Email:          r.FormValue("email"),
		}
		doc, err := formDocument(r, "document", false)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sel.Document = doc
	} else if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, wrapBody(err), nil)
		return
	}
	sel.CorpusRecordID = strings.TrimSpace(body.CorpusRecordID)
	sel.Fingerprint = strings.TrimSpace(body.Fingerprint)

	who := model.Identity{Wallet: strings.TrimSpace(body.Wallet), Email: strings.TrimSpace(body.Email)}
	out, err := s.deps.Verifier.AdminVerify(r.Context(), sel, who, adminActor(r))
	if err != nil {
		writeError(w, r, err, &out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleImportCorpus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())

	var rows []model.CorpusRow
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, r, wrapBody(err), nil)
			return
		}
		doc, err := formDocument(r, "file", true)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		rows, err = fetcher.ReadCorpus(r.Context(), doc.Data, doc.Filename)
		if err != nil {
			writeError(w, r, badRequest("%v", err), nil)
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, r, wrapBody(err), nil)
		return
	}

	records, err := s.deps.Verifier.ImportCorpus(r.Context(), rows, adminActor(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(records), "records": records})
}

func (s *Server) handleImportDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if !isMultipart(r) {
		writeError(w, r, badRequest("multipart form with files is required"), nil)
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, wrapBody(err), nil)
		return
	}

	var docs []verify.Document
	for _, fh := range r.MultipartForm.File["files"] {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if !fetcher.IsZIP(data) {
			docs = append(docs, verify.Document{Data: data, Filename: fh.Filename})
			continue
		}
		entries, err := fetcher.ReadZIP(data, s.maxUpload())
		if err != nil {
			writeError(w, r, badRequest("%v", err), nil)
			return
		}
		for _, e := range entries {
			docs = append(docs, verify.Document{Data: e.Data, Filename: e.Name})
		}
	}

	fps, err := s.deps.Verifier.ImportDocumentSet(r.Context(), docs, adminActor(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(fps), "fingerprints": fps})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{UnreadOnly: q.Get("unread") == "true"}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, badRequest("invalid limit %q", v), nil)
			return
		}
		filter.Limit = n
	}

	events, err := s.deps.Audit.ListAudit(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if events == nil {
		events = []model.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Audit.MarkAuditRead(r.Context(), id); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
}

func (s *Server) handleLedgerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Ledger.Stats(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// formDocument reads the first file under field. A missing file is an error
// only when required.
func formDocument(r *http.Request, field string, required bool) (*verify.Document, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		if required {
			return nil, badRequest("form file %q is required", field)
		}
		return nil, nil
	}
	fh := r.MultipartForm.File[field][0]
	data, err := readPart(fh)
	if err != nil {
		return nil, err
	}
	return &verify.Document{Data: data, Filename: fh.Filename}, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "server: open upload %q", fh.Filename)
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, eris.Wrapf(err, "server: read upload %q", fh.Filename)
	}
	return data, nil
}

// wrapBody classifies request-body failures as client errors, keeping
// size-limit errors distinguishable.
func wrapBody(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return eris.Wrap(err, "server: request body too large")
	}
	return badRequest("malformed request body: %v", err)
}
