package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"mime"
	"net/http"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/render"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

// CriteriaUpload handles POST /criteria/upload and responds with the preview
// fragment, or an alert fragment when extraction fails.
func (h *Handler) CriteriaUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "Invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}

	var file *backend.File
	if r.MultipartForm != nil {
		if fhs := r.MultipartForm.File[backend.FieldCriteriaFile]; len(fhs) > 0 {
			f, err := readUploadedFile(fhs[0])
			if err != nil {
				http.Error(w, "Failed to read "+fhs[0].Filename+": "+err.Error(), http.StatusBadRequest)
				return
			}
			file = &f
		}
	}

	view := &fragmentView{csrfToken: h.getOrCreateCSRFToken(w, r)}
	h.criteria.Upload(r.Context(), file, view)
	view.write(w)
}

// CriteriaUpdate handles POST /criteria/update and responds with a banner
// fragment. The criteria come from the job_criteria form field or a JSON
// body of the form {"job_criteria": ...}.
func (h *Handler) CriteriaUpdate(w http.ResponseWriter, r *http.Request) {
	var criteria json.RawMessage
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	switch mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType {
	case "application/json":
		var body struct {
			JobCriteria json.RawMessage `json:"job_criteria"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		criteria = body.JobCriteria
	case "multipart/form-data":
		// The page posts the update form as FormData
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "Invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if !h.requireCSRF(w, r) {
		return
	}
	if criteria == nil {
		criteria = json.RawMessage(r.FormValue("job_criteria"))
	}

	view := &fragmentView{}
	h.criteria.Update(r.Context(), criteria, view)
	view.write(w)
}

// fragmentView collects the HTML produced by one criteria request
type fragmentView struct {
	csrfToken string
	alert     string
	html      template.HTML
	err       error
}

func (v *fragmentView) Alert(msg string) {
	v.alert = msg
}

func (v *fragmentView) SetSpinner(bool) {}

func (v *fragmentView) ShowPreview(p types.CriteriaPreview) {
	v.append(render.CriteriaPreview(p, v.csrfToken))
}

func (v *fragmentView) ShowError(msg string) {
	v.append(render.Alert(render.AlertDanger, msg))
}

func (v *fragmentView) AddBanner(b types.Banner) {
	v.append(render.Banner(b))
}

// RemoveBanner is handled by the page script via data-dismiss-after
func (v *fragmentView) RemoveBanner(string) {}

func (v *fragmentView) append(html template.HTML, err error) {
	if err != nil {
		v.err = err
		return
	}
	v.html += html
}

func (v *fragmentView) write(w http.ResponseWriter) {
	switch {
	case v.err != nil:
		http.Error(w, "Template error: "+v.err.Error(), http.StatusInternalServerError)
	case v.alert != "":
		http.Error(w, v.alert, http.StatusBadRequest)
	default:
		writeFragment(w, http.StatusOK, v.html)
	}
}
