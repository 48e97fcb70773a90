package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to the CV analysis backend
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. A zero timeout
// leaves requests bounded only by their context. The client keeps the
// backend's session cookie, which carries the id of the finished analysis.
func NewClient(baseURL string, timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil) // never fails without options
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Jar: jar},
	}
}

// BaseURL returns the backend root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResultsURL returns the page to navigate to once analysis completes
func (c *Client) ResultsURL() string {
	return c.baseURL + PathResults
}

// UploadCVs streams all files as repeated cv_files parts.
// 200 means the analysis finished synchronously; 202 carries a job id to poll.
func (c *Client) UploadCVs(ctx context.Context, files []File, onProgress ProgressFunc) (*UploadResult, error) {
	const op = "upload cv"

	if len(files) == 0 {
		return nil, ErrNoFilesSelected
	}

	resp, err := c.postMultipart(ctx, op, c.baseURL+PathUploadCV, FieldCVFiles, files, onProgress)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return &UploadResult{StatusCode: resp.StatusCode}, nil

	case http.StatusAccepted:
		var body struct {
			JobID string `json:"job_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, &MalformedResponseError{Op: op, StatusCode: resp.StatusCode, Err: err}
		}
		if body.JobID == "" {
			return nil, &MalformedResponseError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("missing job_id")}
		}
		return &UploadResult{StatusCode: resp.StatusCode, JobID: body.JobID}, nil

	default:
		return nil, newHTTPError(op, resp)
	}
}

// CheckProgress polls the status of a background job. The body is decoded
// regardless of status code since the backend reports unknown jobs as JSON.
func (c *Client) CheckProgress(ctx context.Context, jobID string) (*JobProgress, error) {
	const op = "check progress"

	u := c.baseURL + PathCheckProgress + "?" + url.Values{"job_id": {jobID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var progress JobProgress
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		return nil, &MalformedResponseError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if progress.Status == "" && resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{Op: op, StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Message: progress.Message}
	}
	return &progress, nil
}

// UploadCriteria posts a job-criteria document and returns the extracted text
// and generated criteria. A decoded body with success=false is not an error.
func (c *Client) UploadCriteria(ctx context.Context, file File) (*CriteriaResult, error) {
	const op = "upload criteria"

	resp, err := c.postMultipart(ctx, op, c.baseURL+PathCriteriaUpload, FieldCriteriaFile, []File{file}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result CriteriaResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &MalformedResponseError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return &result, nil
}

// UpdateCriteria posts the edited criteria object as JSON
func (c *Client) UpdateCriteria(ctx context.Context, criteria json.RawMessage) (*UpdateResult, error) {
	const op = "update criteria"

	payload, err := json.Marshal(struct {
		JobCriteria json.RawMessage `json:"job_criteria"`
	}{criteria})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathCriteriaUpdate, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var result UpdateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &MalformedResponseError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return &result, nil
}

// postMultipart streams files through a pipe so large documents are never
// buffered in memory. Progress counts file content bytes only.
func (c *Client) postMultipart(ctx context.Context, op, target, field string, files []File, onProgress ProgressFunc) (*http.Response, error) {
	total := int64(0)
	for _, f := range files {
		if f.Size < 0 {
			total = -1
			break
		}
		total += f.Size
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	counter := &progressCounter{total: total, onProgress: onProgress}

	go func() {
		err := writeParts(mw, field, files, counter)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

func writeParts(mw *multipart.Writer, field string, files []File, counter *progressCounter) error {
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.Name)
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}

		_, err = io.Copy(part, &progressReader{r: rc, counter: counter})
		rc.Close()
		if err != nil {
			return fmt.Errorf("send %s: %w", f.Name, err)
		}
	}
	return nil
}

// progressCounter accumulates bytes across all parts of one request
type progressCounter struct {
	mu         sync.Mutex
	sent       int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressCounter) add(n int) {
	if n <= 0 || p.onProgress == nil || p.total <= 0 {
		return
	}
	p.mu.Lock()
	p.sent += int64(n)
	sent := p.sent
	p.mu.Unlock()
	p.onProgress(sent, p.total)
}

type progressReader struct {
	r       io.Reader
	counter *progressCounter
}

func (r *progressReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.counter.add(n)
	return n, err
}

func newHTTPError(op string, resp *http.Response) *HTTPError {
	herr := &HTTPError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		herr.Message = body.Error
		if herr.Message == "" {
			herr.Message = body.Message
		}
	}
	if herr.Status == "" {
		herr.Status = resp.Status
	}
	return herr
}
