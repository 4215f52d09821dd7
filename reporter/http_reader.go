// Reader is a client of the http reporter, used by the cli and in tests.

package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) get(path string, out interface{}) error {
	resp, err := http.Get("http://" + hr.serverIP + ":" + hr.serverPort + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, body)
	}
	return json.Unmarshal(body, out)
}

func (hr *HttpReader) GetHello() (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := hr.get(ROUTE_HELLO, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (hr *HttpReader) GetHandle(id string) (*HandleView, error) {
	var resp struct {
		Data HandleView `json:"data"`
	}
	if err := hr.get(ROUTE_HANDLES+"/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (hr *HttpReader) ListHandles(family, status string) ([]HandleView, error) {
	q := url.Values{}
	if family != "" {
		q.Set("family", family)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := ROUTE_HANDLES
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Data []HandleView `json:"data"`
	}
	if err := hr.get(path, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
