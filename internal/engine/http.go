package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ttsd/pkg/types"
)

// httpEngine implements Engine by talking to a standalone synthesis server
// over HTTP. One server hosts all models; load/unload are explicit calls so
// the server can keep its accelerator memory in sync with the registry.
type httpEngine struct {
	baseURL    string
	reqTimeout time.Duration
	httpClient *http.Client
}

// NewHTTPEngine constructs a server-backed engine.
func NewHTTPEngine(baseURL string, reqTimeout time.Duration) Engine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// Client timeout stays 0: every request carries a context deadline.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &httpEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		reqTimeout: reqTimeout,
		httpClient: cli,
	}
}

type loadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

type synthesizeRequest struct {
	Model          string `json:"model"`
	Device         string `json:"device"`
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
	Speaker        string `json:"speaker,omitempty"`
	VoiceReference []byte `json:"voice_reference,omitempty"`
	Format         string `json:"format,omitempty"`
}

type convertRequest struct {
	Model       string `json:"model"`
	Device      string `json:"device"`
	SourceAudio []byte `json:"source_audio"`
	TargetVoice []byte `json:"target_voice"`
	Format      string `json:"format,omitempty"`
}

func (e *httpEngine) Load(ctx context.Context, modelID string, device types.Device) (Session, error) {
	if e.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.reqTimeout)
		defer cancel()
	}
	body, _ := json.Marshal(loadRequest{Model: modelID, Device: string(device)})
	if err := e.post(ctx, "/models/load", body, nil); err != nil {
		return nil, fmt.Errorf("load %s on %s: %w", modelID, device, err)
	}
	return &httpSession{engine: e, modelID: modelID, device: device}, nil
}

// post sends a JSON payload and, when sink is non-nil, copies the response
// body into it; otherwise the body is drained and discarded.
func (e *httpEngine) post(ctx context.Context, path string, body []byte, sink *bytes.Buffer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine %s: %s", path, readErrorMessage(resp))
	}
	if sink != nil {
		if _, err := io.Copy(sink, resp.Body); err != nil {
			return err
		}
		return nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// readErrorMessage extracts {"error": "..."} from an engine error response,
// falling back to the HTTP status.
func readErrorMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return resp.Status
}

// httpSession is a loaded (model, device) pair on the engine server.
type httpSession struct {
	engine  *httpEngine
	modelID string
	device  types.Device
}

func (s *httpSession) Synthesize(ctx context.Context, p Params) ([]byte, error) {
	if s.engine.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.engine.reqTimeout)
		defer cancel()
	}
	body, _ := json.Marshal(synthesizeRequest{
		Model:          s.modelID,
		Device:         string(s.device),
		Text:           p.Text,
		Language:       p.Language,
		Speaker:        p.Speaker,
		VoiceReference: p.VoiceReference,
		Format:         p.Format,
	})
	var buf bytes.Buffer
	if err := s.engine.post(ctx, "/synthesize", body, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *httpSession) Convert(ctx context.Context, source, target []byte, format string) ([]byte, error) {
	if s.engine.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.engine.reqTimeout)
		defer cancel()
	}
	body, _ := json.Marshal(convertRequest{
		Model:       s.modelID,
		Device:      string(s.device),
		SourceAudio: source,
		TargetVoice: target,
		Format:      format,
	})
	var buf bytes.Buffer
	if err := s.engine.post(ctx, "/convert", body, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close tells the engine server to release the model. Unload is advisory:
// a failure here leaves the server to reap the model on its own.
func (s *httpSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	body, _ := json.Marshal(loadRequest{Model: s.modelID, Device: string(s.device)})
	return s.engine.post(ctx, "/models/unload", body, nil)
}
