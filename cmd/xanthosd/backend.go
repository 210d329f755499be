// backend.go: remote backend reached over HTTP
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/xanthos"
	"github.com/go-resty/resty/v2"
)

// ErrCodeBackendStatus marks a non-2xx answer from the backend.
const ErrCodeBackendStatus errors.ErrorCode = "XANTHOSD_BACKEND_STATUS"

// backend fetches resources as JSON documents at <base>/<key>.
type backend struct {
	client *resty.Client
}

func newBackend(baseURL string, timeout time.Duration) *backend {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &backend{client: c}
}

// get returns the operation reading key.
func (b *backend) get(key string) xanthos.Operation {
	return func(ctx context.Context) (interface{}, error) {
		resp, err := b.client.R().SetContext(ctx).Get("/" + url.PathEscape(key))
		return decode(ctx, key, resp, err)
	}
}

// post returns the operation submitting body for key.
func (b *backend) post(key string, body []byte) xanthos.Operation {
	return func(ctx context.Context) (interface{}, error) {
		resp, err := b.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("/" + url.PathEscape(key))
		return decode(ctx, key, resp, err)
	}
}

func decode(ctx context.Context, key string, resp *resty.Response, err error) (interface{}, error) {
	if err != nil {
		// The attempt deadline or the caller ended the request.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, xanthos.NewErrTransient(err)
	}
	if resp.IsError() {
		statusErr := newStatusError(key, resp.StatusCode())
		// 5xx and 429 are worth another attempt.
		if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return nil, xanthos.NewErrTransient(statusErr)
		}
		return nil, statusErr
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, newStatusError(key, http.StatusBadGateway)
	}
	return json.RawMessage(body), nil
}

func newStatusError(key string, status int) error {
	return errors.NewWithContext(ErrCodeBackendStatus, fmt.Sprintf("backend answered %d", status), map[string]interface{}{
		"key":    key,
		"status": status,
	})
}

// backendStatus extracts the backend status from err, if any.
func backendStatus(err error) (int, bool) {
	for e := err; e != nil; e = goerrors.Unwrap(e) {
		if x, ok := e.(*errors.Error); ok && x.ErrorCode() == ErrCodeBackendStatus {
			status, ok := x.Context["status"].(int)
			return status, ok
		}
	}
	return 0, false
}
