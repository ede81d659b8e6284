package hostrpc

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	addr := strings.TrimPrefix(srv.URL, "http://")
	return New(addr, "user", "pass"), srv
}

func TestPauseDownloadSendsExpectedMethodAndAuth(t *testing.T) {
	var gotMethod, gotUser, gotPass string
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotUser, gotPass = user, pass
		body, _ := io.ReadAll(r.Body)
		gotMethod = string(body)
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, `<?xml version="1.0"?><methodResponse><params><param><value><boolean>1</boolean></value></param></params></methodResponse>`)
	})
	defer srv.Close()

	if err := client.PauseDownload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "user" || gotPass != "pass" {
		t.Fatalf("expected basic auth user/pass, got %q/%q", gotUser, gotPass)
	}
	if !strings.Contains(gotMethod, "pausedownload") {
		t.Fatalf("expected pausedownload method name in request body, got %s", gotMethod)
	}
}

func TestCallXMLFaultReturnsError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<?xml version="1.0"?><methodResponse><fault><value><struct></struct></value></fault></methodResponse>`)
	})
	defer srv.Close()

	if err := client.ResumeDownload(); err == nil {
		t.Fatal("expected an error on a faulted xmlrpc response")
	}
}

func TestCallXMLNon2xxReturnsError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	if err := client.ResumeDownload(); err == nil {
		t.Fatal("expected an error on a non-2xx xmlrpc response")
	}
}

func TestStatusParsesStructFields(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<?xml version="1.0"?><methodResponse><params><param><value><struct>
			<member><name>ServerPaused</name><value><boolean>1</boolean></value></member>
			<member><name>ServerTime</name><value><int>1700000000</int></value></member>
			<member><name>UpTimeSec</name><value><int>3600</int></value></member>
		</struct></value></param></params></methodResponse>`)
	})
	defer srv.Close()

	paused, serverTime, upTime, err := client.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !paused {
		t.Error("expected paused=true")
	}
	if serverTime != 1700000000 {
		t.Errorf("expected serverTime 1700000000, got %d", serverTime)
	}
	if upTime != 3600 {
		t.Errorf("expected upTimeSec 3600, got %d", upTime)
	}
}

func TestListFilesParsesArrayOfStructs(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<?xml version="1.0"?><methodResponse><params><param><value><array><data>
			<value><struct>
				<member><name>ID</name><value><int>1</int></value></member>
				<member><name>Filename</name><value><string>release.r00</string></value></member>
				<member><name>FileSizeLo</name><value><int>1000</int></value></member>
				<member><name>FileSizeHi</name><value><int>0</int></value></member>
			</struct></value>
		</data></array></value></param></params></methodResponse>`)
	})
	defer srv.Close()

	files, err := client.ListFiles(42)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Filename != "release.r00" || files[0].ID != 1 {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestListGroupsDecodesJSON(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"result":[{"NZBID":7,"NZBFilename":"release","Status":"PAUSED","CriticalHealth":1000,"DupeKey":"k","DupeScore":0,"Priority":0}],"error":null}`)
	})
	defer srv.Close()

	groups, err := client.ListGroups()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].ID != 7 || groups[0].Status != "PAUSED" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestHistoryDecodesJSONError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":null,"error":"boom"}`)
	})
	defer srv.Close()

	if _, err := client.History(); err == nil {
		t.Fatal("expected an error when the jsonrpc response carries an error field")
	}
}
