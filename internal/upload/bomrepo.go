package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CZERTAINLY/csop/internal/model"
)

const (
	bomPath        = "api/v1/bom"
	bomContentType = "application/vnd.cyclonedx+json; version=1.6"
)

// BOMRepository publishes the BOM of a run to a BOM repository. The upload is
// tagged with the repository and commit of the run. The serial number of the
// BOM is the run id, so a repository which already holds it answers 409 and
// the run counts as published.
type BOMRepository struct {
	requestURL *url.URL
	client     *http.Client
}

func NewBOMRepository(serverURL string, md model.Metadata) (*BOMRepository, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}
	parsedURL.Path = bomPath

	q := url.Values{}
	q.Set("repository", md.Repository)
	q.Set("commit", md.Commit)
	if md.Branch != "" {
		q.Set("branch", md.Branch)
	}
	if md.Job != "" {
		q.Set("job", md.Job)
	}
	parsedURL.RawQuery = q.Encode()

	return &BOMRepository{
		requestURL: parsedURL,
		client:     &http.Client{Timeout: time.Minute},
	}, nil
}

// Upload posts the BOM in raw. The repository must store it under the serial
// number raw carries.
func (c *BOMRepository) Upload(ctx context.Context, raw []byte) error {
	serial, err := bomSerial(raw)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", bomContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusCreated:
		created, err := decodeCreated(resp)
		if err != nil {
			return err
		}
		if created.SerialNumber != serial {
			return fmt.Errorf("repository stored the BOM as %s, expected %s", created.SerialNumber, serial)
		}
		slog.DebugContext(ctx, "BOM uploaded",
			slog.String("urn", created.SerialNumber),
			slog.Int("version", created.Version))
		return nil
	case http.StatusConflict:
		slog.InfoContext(ctx, "BOM of the run is already published", slog.String("urn", serial))
		return nil
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return decodeProblem(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}

type BOMCreated struct {
	SerialNumber string `json:"serialNumber"`
	Version      int    `json:"version"`
}

func bomSerial(raw []byte) (string, error) {
	var bom struct {
		SerialNumber string `json:"serialNumber"`
	}
	if err := json.Unmarshal(raw, &bom); err != nil {
		return "", fmt.Errorf("decoding BOM: %w", err)
	}
	if bom.SerialNumber == "" {
		return "", errors.New("BOM has no serial number")
	}
	return bom.SerialNumber, nil
}

func mediaType(resp *http.Response) (string, error) {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to parse response content type header: %w", err)
	}
	return contentType, nil
}

func decodeCreated(resp *http.Response) (BOMCreated, error) {
	contentType, err := mediaType(resp)
	if err != nil {
		return BOMCreated{}, err
	}
	if contentType != "application/json" {
		return BOMCreated{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
	}
	var bc BOMCreated
	if err := json.NewDecoder(resp.Body).Decode(&bc); err != nil {
		return BOMCreated{}, fmt.Errorf("decoding json response failed: %w", err)
	}
	if bc.SerialNumber == "" || bc.Version == 0 {
		return BOMCreated{}, errors.New("received unexpected body")
	}
	return bc, nil
}

func decodeProblem(resp *http.Response) error {
	contentType, err := mediaType(resp)
	if err != nil {
		return err
	}
	if contentType != "application/problem+json" {
		return fmt.Errorf("expected `application/problem+json` content type, got: %s", contentType)
	}
	var problemDetail struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
		return fmt.Errorf("decoding json response failed: %w", err)
	}
	return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
}
