// Package farcaster talks to the social-graph API: user lookups for wallet
// resolution and conversation fetches for the latest-reply flow.
package farcaster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrNoUser            = errors.New("no user for fid")
	ErrNoVerifiedAddress = errors.New("user has no verified eth address")
	ErrNoReply           = errors.New("no reply from fid on this cast")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("accept", "application/json").
		SetHeader("api_key", cfg.APIKey).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second)

	return &Client{http: client}
}

// User is the resolved identity for a requester: display handle plus the
// first verified eth address.
type User struct {
	FID      int64
	Username string
	Address  string
}

type bulkUsersResponse struct {
	Users []struct {
		FID               int64  `json:"fid"`
		Username          string `json:"username"`
		VerifiedAddresses struct {
			EthAddresses []string `json:"eth_addresses"`
		} `json:"verified_addresses"`
	} `json:"users"`
}

func (c *Client) UserByFID(ctx context.Context, fid int64) (User, error) {
	var out bulkUsersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("fids", fmt.Sprintf("%d", fid)).
		SetResult(&out).
		Get("/v2/farcaster/user/bulk")
	if err != nil {
		return User{}, fmt.Errorf("user lookup: %w", err)
	}
	if resp.IsError() {
		return User{}, fmt.Errorf("user lookup returned status=%d", resp.StatusCode())
	}

	if len(out.Users) == 0 {
		return User{}, ErrNoUser
	}
	u := out.Users[0]
	if len(u.VerifiedAddresses.EthAddresses) == 0 || u.VerifiedAddresses.EthAddresses[0] == "" {
		return User{}, ErrNoVerifiedAddress
	}

	return User{
		FID:      u.FID,
		Username: u.Username,
		Address:  u.VerifiedAddresses.EthAddresses[0],
	}, nil
}

// Reply is one direct reply on a cast thread.
type Reply struct {
	FID       int64
	Text      string
	Timestamp time.Time
}

type conversationResponse struct {
	Conversation struct {
		Cast struct {
			DirectReplies []struct {
				Author struct {
					FID int64 `json:"fid"`
				} `json:"author"`
				Text      string    `json:"text"`
				Timestamp time.Time `json:"timestamp"`
			} `json:"direct_replies"`
		} `json:"cast"`
	} `json:"conversation"`
}

// LatestReply fetches the cast's direct replies and returns the most
// recent one authored by the given fid.
func (c *Client) LatestReply(ctx context.Context, castHash string, fid int64) (Reply, error) {
	var out conversationResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"identifier":                           castHash,
			"type":                                 "hash",
			"reply_depth":                          "1",
			"include_chronological_parent_casts":   "false",
		}).
		SetResult(&out).
		Get("/v2/farcaster/cast/conversation")
	if err != nil {
		return Reply{}, fmt.Errorf("conversation lookup: %w", err)
	}
	if resp.IsError() {
		return Reply{}, fmt.Errorf("conversation lookup returned status=%d", resp.StatusCode())
	}

	var replies []Reply
	for _, r := range out.Conversation.Cast.DirectReplies {
		if r.Author.FID != fid {
			continue
		}
		replies = append(replies, Reply{FID: r.Author.FID, Text: r.Text, Timestamp: r.Timestamp})
	}
	if len(replies) == 0 {
		return Reply{}, ErrNoReply
	}

	sort.Slice(replies, func(i, j int) bool {
		return replies[i].Timestamp.After(replies[j].Timestamp)
	})
	return replies[0], nil
}
