package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext drives a running ttkn server over HTTP and keeps the last
// response for assertions. A fresh one is built per scenario.
type TestContext struct {
	BaseURL     string
	OwnerToken  string
	OtherToken  string
	AccessToken string

	client       *http.Client
	lastStatus   int
	lastBody     []byte
	lastDecoded  map[string]interface{}
	accounts     map[string]string
	savedAmounts map[string]string
}

func NewTestContext(baseURL, ownerToken, otherToken string) *TestContext {
	return &TestContext{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		OwnerToken:   ownerToken,
		OtherToken:   otherToken,
		client:       &http.Client{Timeout: 10 * time.Second},
		accounts:     map[string]string{},
		savedAmounts: map[string]string{},
	}
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.do(http.MethodPost, path, body, tc.authHeaders())
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) authHeaders() map[string]string {
	if tc.AccessToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.AccessToken}
}

func (tc *TestContext) do(method, path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	tc.lastDecoded = nil
	if len(tc.lastBody) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal(tc.lastBody, &decoded); err == nil {
			tc.lastDecoded = decoded
		}
	}
	return nil
}

func (tc *TestContext) GetLastStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastBody() string {
	return string(tc.lastBody)
}

// GetResponseField resolves a dotted path such as "balance.formatted".
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	if tc.lastDecoded == nil {
		return nil, fmt.Errorf("last response is not a JSON object: %s", tc.lastBody)
	}
	var cur interface{} = tc.lastDecoded
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		if cur, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
		}
	}
	return cur, nil
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}

func (tc *TestContext) GetAccessToken() string {
	return tc.AccessToken
}

func (tc *TestContext) SetAccessToken(token string) {
	tc.AccessToken = token
}

func (tc *TestContext) GetOwnerToken() string {
	return tc.OwnerToken
}

func (tc *TestContext) GetOtherToken() string {
	return tc.OtherToken
}

// Account returns the address registered under a scenario alias.
func (tc *TestContext) Account(alias string) (string, bool) {
	addr, ok := tc.accounts[alias]
	return addr, ok
}

func (tc *TestContext) SetAccount(alias, address string) {
	tc.accounts[alias] = address
}

func (tc *TestContext) SaveAmount(name, value string) {
	tc.savedAmounts[name] = value
}

func (tc *TestContext) SavedAmount(name string) (string, bool) {
	v, ok := tc.savedAmounts[name]
	return v, ok
}
