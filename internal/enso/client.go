// Package enso wraps the content-validation and attestation-minting
// webhooks. Both accept a JSON payload with a shared API key and answer
// with a reference string.
package enso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoBrand means the validation service answered but matched no brand;
// the job is rejected, not errored.
var ErrNoBrand = errors.New("no brand found")

type Config struct {
	ValidateURL string
	MintURL     string
	Key         string
	Timeout     time.Duration
}

type Client struct {
	http        *resty.Client
	validateURL string
	mintURL     string
	key         string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		http:        client,
		validateURL: cfg.ValidateURL,
		mintURL:     cfg.MintURL,
		key:         cfg.Key,
	}
}

type validateRequest struct {
	Key      string `json:"key"`
	Username string `json:"username"`
	ImageURL string `json:"imageUrl"`
	Message  string `json:"message"`
}

type validateResponse struct {
	Brand string `json:"brand"`
}

// Validate submits the subject for brand validation. An empty brand in a
// successful response is a rejection, not an error path.
func (c *Client) Validate(ctx context.Context, username, imageURL, message string) (string, error) {
	var out validateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(validateRequest{
			Key:      c.key,
			Username: username,
			ImageURL: imageURL,
			Message:  message,
		}).
		SetResult(&out).
		Post(c.validateURL)
	if err != nil {
		return "", fmt.Errorf("validation webhook: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("validation webhook returned status=%d", resp.StatusCode())
	}

	if out.Brand == "" {
		return "", ErrNoBrand
	}
	return out.Brand, nil
}

type MintParams struct {
	Username      string
	AttestWallet  string
	PostURL       string
	PostImageLink string
	PostContent   string
	QuestID       string
}

type mintRequest struct {
	Key           string `json:"key"`
	Username      string `json:"username"`
	AttestWallet  string `json:"attestWallet"`
	PostURL       string `json:"postUrl"`
	PostImageLink string `json:"postImageLink"`
	PostContent   string `json:"postContent"`
	QuestID       string `json:"questId"`
}

type mintResponse struct {
	URL string `json:"url"`
}

// Mint asks the minting webhook to produce an on-chain attestation and
// returns its reference URL.
func (c *Client) Mint(ctx context.Context, params MintParams) (string, error) {
	var out mintResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(mintRequest{
			Key:           c.key,
			Username:      params.Username,
			AttestWallet:  params.AttestWallet,
			PostURL:       params.PostURL,
			PostImageLink: params.PostImageLink,
			PostContent:   params.PostContent,
			QuestID:       params.QuestID,
		}).
		SetResult(&out).
		Post(c.mintURL)
	if err != nil {
		return "", fmt.Errorf("mint webhook: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("mint webhook returned status=%d", resp.StatusCode())
	}

	if out.URL == "" {
		return "", errors.New("mint webhook returned no attestation reference")
	}
	return out.URL, nil
}
