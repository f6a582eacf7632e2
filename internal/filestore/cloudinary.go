package filestore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Cloudinary stores files as raw assets through the Cloudinary upload API.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	HTTP      *http.Client
	BaseURL   string
	now       func() time.Time
}

// NewCloudinary creates a Cloudinary store.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    strings.Trim(folder, "/"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		BaseURL:   "https://api.cloudinary.com",
		now:       time.Now,
	}
}

type uploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Bytes     int64  `json:"bytes"`
}

// Upload sends r as a raw asset whose public id is the folder plus path.
func (c *Cloudinary) Upload(ctx context.Context, path, contentType string, r io.Reader) (Object, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": path,
		"api_key":   c.APIKey,
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, CleanName(path)))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return Object{}, errors.Wrap(err, "cloudinary: create form file")
	}
	if _, err := io.Copy(part, r); err != nil {
		return Object{}, errors.Wrap(err, "cloudinary: write file")
	}
	if err := w.Close(); err != nil {
		return Object{}, errors.Wrap(err, "cloudinary: close form")
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/upload", c.BaseURL, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Object{}, errors.Wrap(err, "cloudinary: create request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Object{}, errors.Wrap(err, "cloudinary: request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return Object{}, errors.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result uploadResult
	if err := sonic.Unmarshal(body, &result); err != nil {
		return Object{}, errors.Wrap(err, "cloudinary: decode response")
	}
	return Object{Path: path, URL: result.SecureURL, ContentType: contentType, Size: result.Bytes}, nil
}

// DownloadURL returns the public delivery URL of a raw asset.
func (c *Cloudinary) DownloadURL(ctx context.Context, path string) (string, error) {
	id := path
	if c.Folder != "" {
		id = c.Folder + "/" + path
	}
	return fmt.Sprintf("https://res.cloudinary.com/%s/raw/upload/%s", c.CloudName, id), nil
}

type destroyResult struct {
	Result string `json:"result"`
}

// Delete destroys the raw asset stored under path.
func (c *Cloudinary) Delete(ctx context.Context, path string) error {
	id := path
	if c.Folder != "" {
		id = c.Folder + "/" + path
	}
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": id,
		"api_key":   c.APIKey,
	}
	params["signature"] = c.sign(params)
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/destroy", c.BaseURL, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "cloudinary: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, "cloudinary: request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return errors.Errorf("cloudinary: destroy failed (%d): %s", resp.StatusCode, string(body))
	}
	var result destroyResult
	if err := sonic.Unmarshal(body, &result); err != nil {
		return errors.Wrap(err, "cloudinary: decode response")
	}
	if result.Result != "ok" && result.Result != "not found" {
		return errors.Errorf("cloudinary: destroy %s: %s", id, result.Result)
	}
	return nil
}

// sign computes the Cloudinary API signature from the given params.
// api_key and file are never signed.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
