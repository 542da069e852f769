package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	. "github.com/russross/practicalgrader/types"
)

// apiError is a failed call as reported by the server.
type apiError struct {
	Status int
	ErrorResponse
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.ErrorCode)
}

func baseURL() string {
	if strings.Contains(Config.Host, "://") {
		return strings.TrimSuffix(Config.Host, "/") + urlPrefix
	}
	return "https://" + Config.Host + urlPrefix
}

func mustGetObject(path string, params url.Values, download interface{}) {
	if err := doRequest(path, params, "GET", nil, download); err != nil {
		log.Fatalf("%v", err)
	}
}

// refreshSession exchanges the stored token for a fresh session cookie.
func refreshSession() error {
	var result struct {
		Cookie string
	}
	Config.Cookie = ""
	if err := sendRequest("/users/session", nil, "POST", nil, &result); err != nil {
		return err
	}
	if result.Cookie == "" {
		return fmt.Errorf("server did not issue a session cookie")
	}
	Config.Cookie = result.Cookie
	return nil
}

// doRequest sends one API request. If the session cookie has been
// rejected and a token is on file, the session is refreshed and the
// request is tried once more.
func doRequest(path string, params url.Values, method string, upload interface{}, download interface{}) error {
	err := sendRequest(path, params, method, upload, download)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && Config.Token != "" && Config.Cookie != "" {
		if Config.apiReport {
			fmt.Println("session rejected; logging in again")
		}
		if err := refreshSession(); err != nil {
			return err
		}
		mustWriteConfig()
		return sendRequest(path, params, method, upload, download)
	}
	return err
}

func sendRequest(path string, params url.Values, method string, upload interface{}, download interface{}) error {
	if !strings.HasPrefix(path, "/") {
		log.Panicf("doRequest path must start with /")
	}
	if method != "GET" && method != "POST" {
		log.Panicf("doRequest only recognizes GET and POST methods")
	}
	url := baseURL() + path
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return fmt.Errorf("error creating http request: %w", err)
	}

	// add any parameters
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}

	if Config.apiReport {
		fmt.Printf("%s %s\n", method, req.URL)
	}

	// set the headers
	if Config.Cookie != "" {
		req.Header.Add("Cookie", Config.Cookie)
	} else if Config.Token != "" {
		req.Header.Add("Authorization", "Bearer "+Config.Token)
	}
	if download != nil {
		req.Header.Add("Accept", "application/json")
		req.Header.Add("Accept-Encoding", "gzip")
	}

	// upload the payload if any
	if upload != nil && method == "POST" {
		req.Header.Add("Content-Type", "application/json")
		req.Header.Add("Content-Encoding", "gzip")
		payload := new(bytes.Buffer)
		gw := gzip.NewWriter(payload)
		uncompressed := new(bytes.Buffer)
		var jsontarget io.Writer
		if Config.apiDump {
			jsontarget = io.MultiWriter(gw, uncompressed)
		} else {
			jsontarget = gw
		}
		jw := json.NewEncoder(jsontarget)
		if err := jw.Encode(upload); err != nil {
			return fmt.Errorf("JSON error encoding object to upload: %w", err)
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("gzip error encoding object to upload: %w", err)
		}
		req.Body = io.NopCloser(payload)

		if Config.apiDump {
			fmt.Printf("Request data: %s\n", uncompressed)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", Config.Host, err)
	}
	defer resp.Body.Close()

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return fmt.Errorf("failed to decompress gzip result: %w", err)
		}
		body = gz
		defer gz.Close()
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(body)
		if Config.apiDump {
			fmt.Printf("Response data: %s\n", raw)
		}
		if err := json.Unmarshal(raw, &apiErr.ErrorResponse); err != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	// parse the result if any
	if download != nil {
		decoder := json.NewDecoder(body)
		if err := decoder.Decode(download); err != nil {
			return fmt.Errorf("failed to parse result object from server: %w", err)
		}

		if Config.apiDump {
			raw, err := json.MarshalIndent(download, "", "    ")
			if err != nil {
				return fmt.Errorf("JSON error encoding downloaded object: %w", err)
			}
			fmt.Printf("Response data: %s\n", raw)
		}
	}
	return nil
}
