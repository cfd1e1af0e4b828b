package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/types"
)

// Metadata is what the worker reports about a finished stage.
type Metadata struct {
	GenTimeSecs float64 `json:"genTimeSecs"`
	VRAMUsageMB float64 `json:"vramUsageMb"`
	Format      string  `json:"format,omitempty"`
}

// ImageResult is the payload of a completed image stage.
type ImageResult struct {
	Image []byte   `json:"image"`
	Meta  Metadata `json:"metadata"`
}

// MeshResult is the payload of a completed mesh stage.
type MeshResult struct {
	Mesh []byte   `json:"mesh"`
	Meta Metadata `json:"metadata"`
}

// FullResult is the payload of a completed full pipeline run.
type FullResult struct {
	Image []byte   `json:"image"`
	Mesh  []byte   `json:"mesh"`
	Meta  Metadata `json:"metadata"`
}

// generateRequest is the wire shape for all three worker calls. Byte
// fields ride as base64 per encoding/json convention.
type generateRequest struct {
	Prompt  string                   `json:"prompt,omitempty"`
	Image   []byte                   `json:"image,omitempty"`
	Options types.GenerationOptions `json:"options,omitempty"`
}

// errTransport marks network-layer failures against the worker, which
// count toward the health tally; application errors do not.
var errTransport = errors.New("worker transport error")

// workerError is the worker's error envelope.
type workerError struct {
	Error string `json:"error"`
}

// Client speaks the worker's local HTTP protocol. Call deadlines come
// from the caller's context; the client itself sets no timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a worker listening on the given port.
func NewClient(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{},
	}
}

// GenerateImage asks the worker to render an image from a prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string, opts types.GenerationOptions) (*ImageResult, error) {
	var out ImageResult
	err := c.post(ctx, "/generate/image", generateRequest{Prompt: prompt, Options: opts}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateMesh asks the worker to reconstruct a mesh from image bytes.
func (c *Client) GenerateMesh(ctx context.Context, image []byte, opts types.GenerationOptions) (*MeshResult, error) {
	var out MeshResult
	err := c.post(ctx, "/generate/mesh", generateRequest{Image: image, Options: opts}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateFull runs the whole prompt-to-mesh pipeline worker-side.
func (c *Client) GenerateFull(ctx context.Context, prompt string, opts types.GenerationOptions) (*FullResult, error) {
	var out FullResult
	err := c.post(ctx, "/generate/full", generateRequest{Prompt: prompt, Options: opts}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode worker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("worker call %s exceeded its deadline: %w", path, errdefs.ErrTimeout)
		}
		return fmt.Errorf("worker call %s failed (%v): %w", path, err, errTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var we workerError
		if json.Unmarshal(data, &we) == nil && we.Error != "" {
			return fmt.Errorf("worker call %s returned %d: %s", path, resp.StatusCode, we.Error)
		}
		return fmt.Errorf("worker call %s returned %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode worker response: %w", err)
	}
	return nil
}
