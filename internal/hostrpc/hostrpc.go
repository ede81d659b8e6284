// Package hostrpc talks to the host's two RPC surfaces: XML-RPC for queue
// control edits and JSON-RPC for bulk reads. Grounded on the teacher's
// plain net/http request/response shape in internal/fediverse/activitypub.go
// (build request, set headers, client.Do, check status); no XML-RPC or
// JSON-RPC client exists anywhere in the retrieved corpus, so both envelopes
// are hand-rolled on encoding/xml, encoding/json and net/http (documented in
// DESIGN.md).
package hostrpc

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a host RPC adapter over HTTP Basic Auth.
type Client struct {
	baseURL string
	user    string
	pass    string
	http    *http.Client
}

// New builds a Client for the host control endpoint at host:port.
func New(addr, user, pass string) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s/xmlrpc", addr),
		user:    user,
		pass:    pass,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- XML-RPC control edits ---

type xmlRPCCall struct {
	XMLName    xml.Name     `xml:"methodCall"`
	MethodName string       `xml:"methodName"`
	Params     []xmlRPCParm `xml:"params>param"`
}

type xmlRPCParm struct {
	Value xmlRPCValue `xml:"value"`
}

type xmlRPCValue struct {
	Int     *int         `xml:"int,omitempty"`
	String  *string      `xml:"string,omitempty"`
	Boolean *int         `xml:"boolean,omitempty"`
	Array   *xmlRPCArray `xml:"array,omitempty"`
	Struct  *xmlRPCStruct `xml:"struct,omitempty"`
}

type xmlRPCArray struct {
	Data []xmlRPCValue `xml:"data>value"`
}

type xmlRPCStruct struct {
	Members []xmlRPCMember `xml:"member"`
}

type xmlRPCMember struct {
	Name  string      `xml:"name"`
	Value xmlRPCValue `xml:"value"`
}

func (s *xmlRPCStruct) intField(name string) int64 {
	for _, m := range s.Members {
		if m.Name == name && m.Value.Int != nil {
			return int64(*m.Value.Int)
		}
	}
	return 0
}

func (s *xmlRPCStruct) boolField(name string) bool {
	for _, m := range s.Members {
		if m.Name == name && m.Value.Boolean != nil {
			return *m.Value.Boolean != 0
		}
	}
	return false
}

func (s *xmlRPCStruct) stringField(name string) string {
	for _, m := range s.Members {
		if m.Name == name && m.Value.String != nil {
			return *m.Value.String
		}
	}
	return ""
}

type xmlRPCResponse struct {
	XMLName xml.Name      `xml:"methodResponse"`
	Params  []xmlRPCParm  `xml:"params>param"`
	Fault   *xmlRPCFault  `xml:"fault"`
}

type xmlRPCFault struct {
	Value xmlRPCValue `xml:"value"`
}

func intValue(v int) xmlRPCValue    { return xmlRPCValue{Int: &v} }
func stringValue(v string) xmlRPCValue { return xmlRPCValue{String: &v} }
func stringArray(vs []string) xmlRPCValue {
	arr := &xmlRPCArray{}
	for _, v := range vs {
		v := v
		arr.Data = append(arr.Data, xmlRPCValue{String: &v})
	}
	return xmlRPCValue{Array: arr}
}

func (c *Client) callXML(method string, params ...xmlRPCValue) (*xmlRPCResponse, error) {
	call := xmlRPCCall{MethodName: method}
	for _, p := range params {
		call.Params = append(call.Params, xmlRPCParm{Value: p})
	}

	body, err := xml.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal xmlrpc call %s: %w", method, err)
	}

	req, err := http.NewRequest("POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build xmlrpc request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("xmlrpc %s: unexpected status %d", method, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read xmlrpc %s response: %w", method, err)
	}

	var out xmlRPCResponse
	if err := xml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode xmlrpc %s response: %w", method, err)
	}
	if out.Fault != nil {
		return nil, fmt.Errorf("xmlrpc %s faulted", method)
	}
	return &out, nil
}

// EditQueue issues a queue-editing command (GroupResume, GroupPauseExtraPars,
// GroupDelete, GroupPause, FileDelete, HistoryMarkBad, HistoryRedownload,
// HistoryReturn, GroupDupeDelete) against the given NZB/file IDs.
func (c *Client) EditQueue(command string, offset int, text string, ids []int64) error {
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = fmt.Sprintf("%d", id)
	}
	_, err := c.callXML("editqueue",
		stringValue(command),
		intValue(offset),
		stringValue(text),
		stringArray(idStrs),
	)
	return err
}

// PauseDownload pauses the host's global download queue.
func (c *Client) PauseDownload() error {
	_, err := c.callXML("pausedownload")
	return err
}

// ResumeDownload resumes the host's global download queue.
func (c *Client) ResumeDownload() error {
	_, err := c.callXML("resumedownload")
	return err
}

// Status reports whether the host's downloader is currently paused.
func (c *Client) Status() (paused bool, serverTime int64, upTimeSec int64, err error) {
	resp, err := c.callXML("status")
	if err != nil {
		return false, 0, 0, err
	}
	// The status reply is a struct; only the members this adapter consumes
	// (ServerPaused, ServerTime, UpTimeSec) are read from it.
	return parseStatusResponse(resp)
}

// ListFiles returns every file belonging to queueID.
func (c *Client) ListFiles(queueID int64) ([]QueueFileDTO, error) {
	resp, err := c.callXML("listfiles", intValue(0), intValue(0), intValue(int(queueID)))
	if err != nil {
		return nil, err
	}
	return parseListFilesResponse(resp)
}

// QueueFileDTO is one file entry as reported by listfiles.
type QueueFileDTO struct {
	ID         int64
	Filename   string
	FileSizeLo uint32
	FileSizeHi uint32
}

func parseListFilesResponse(resp *xmlRPCResponse) ([]QueueFileDTO, error) {
	if len(resp.Params) == 0 || resp.Params[0].Value.Array == nil {
		return nil, nil
	}
	var out []QueueFileDTO
	for _, v := range resp.Params[0].Value.Array.Data {
		if v.Struct == nil {
			continue
		}
		out = append(out, QueueFileDTO{
			ID:         v.Struct.intField("ID"),
			Filename:   v.Struct.stringField("Filename"),
			FileSizeLo: uint32(v.Struct.intField("FileSizeLo")),
			FileSizeHi: uint32(v.Struct.intField("FileSizeHi")),
		})
	}
	return out, nil
}

func parseStatusResponse(resp *xmlRPCResponse) (paused bool, serverTime int64, upTimeSec int64, err error) {
	if len(resp.Params) == 0 || resp.Params[0].Value.Struct == nil {
		return false, 0, 0, fmt.Errorf("status response missing struct")
	}
	s := resp.Params[0].Value.Struct
	return s.boolField("ServerPaused"), s.intField("ServerTime"), s.intField("UpTimeSec"), nil
}

// --- JSON-RPC bulk reads ---

type jsonRPCRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  interface{}     `json:"error"`
}

func (c *Client) callJSON(method string, params ...interface{}) (json.RawMessage, error) {
	payload := jsonRPCRequest{Method: method, Params: params}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonrpc call %s: %w", method, err)
	}

	req, err := http.NewRequest("POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build jsonrpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jsonrpc %s: unexpected status %d", method, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read jsonrpc %s response: %w", method, err)
	}

	var out jsonRPCResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode jsonrpc %s response: %w", method, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("jsonrpc %s error: %v", method, out.Error)
	}
	return out.Result, nil
}

// GroupDTO is one queued release as reported by listgroups.
type GroupDTO struct {
	ID             int    `json:"NZBID"`
	Name           string `json:"NZBFilename"`
	Active         bool   `json:"Active"`
	Status         string `json:"Status"`
	MinPostTime    int64  `json:"MinPostTime"`
	CriticalHealth int    `json:"CriticalHealth"`
	DupeKey        string `json:"DupeKey"`
	DupeScore      int    `json:"DupeScore"`
	Priority       int    `json:"Priority"`
}

// ListGroups returns every release currently in the host's download queue.
func (c *Client) ListGroups() ([]GroupDTO, error) {
	result, err := c.callJSON("listgroups")
	if err != nil {
		return nil, err
	}
	var groups []GroupDTO
	if err := json.Unmarshal(result, &groups); err != nil {
		return nil, fmt.Errorf("decode listgroups result: %w", err)
	}
	return groups, nil
}

// HistoryDTO is one history row as reported by the history bulk endpoint.
type HistoryDTO struct {
	NZBID          int64   `json:"NZBID"`
	Name           string  `json:"Name"`
	Status         string  `json:"Status"`
	DupeKey        string  `json:"DupeKey"`
	DupeScore      int     `json:"DupeScore"`
	MaxPostTime    int64   `json:"MaxPostTime"`
	CriticalHealth int     `json:"CriticalHealth"`
	Parameters     []Param `json:"Parameters"`
}

// Param is a host-side queue/history key-value parameter.
type Param struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// History returns the host's full download history, used for dupe
// resolution candidate discovery.
func (c *Client) History() ([]HistoryDTO, error) {
	result, err := c.callJSON("history", true)
	if err != nil {
		return nil, err
	}
	var entries []HistoryDTO
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("decode history result: %w", err)
	}
	return entries, nil
}
