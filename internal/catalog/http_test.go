package catalog_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"LiveCatalog/internal/catalog"
	"LiveCatalog/internal/images"
	"LiveCatalog/internal/live"
)

type testApp struct {
	ts  *httptest.Server
	dir string
	hub *live.Hub
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dir := t.TempDir()
	log := zap.NewNop()

	imgs, err := images.NewStore(dir, log)
	if err != nil {
		t.Fatalf("images.NewStore: %v", err)
	}
	hub := live.NewHub(log, nil)

	s := &catalog.Server{
		Log: log,
		Service: &catalog.Service{
			Store:  catalog.NewStore(),
			Images: imgs,
			Live:   hub,
			Log:    log,
		},
	}

	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:       log,
		Service:   "catalog",
		UploadDir: dir,
		Live:      hub,
	})

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testApp{ts: ts, dir: dir, hub: hub}
}

func (a *testApp) uploadedFiles(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, method, url string, fields map[string]string, file *filePart) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if file != nil {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="foto"; filename=%q`, file.name))
		hdr.Set("Content-Type", file.contentType)
		pw, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := pw.Write(file.data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return do(t, req)
}

type productJSON struct {
	ID          string    `json:"id"`
	Titulo      string    `json:"titulo"`
	Descricao   string    `json:"descricao"`
	Preco       float64   `json:"preco"`
	FotoURL     *string   `json:"fotoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type mutationJSON struct {
	Message string      `json:"message"`
	Product productJSON `json:"product"`
}

func decodeMutation(t *testing.T, body []byte) mutationJSON {
	t.Helper()

	var m mutationJSON
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	return m
}

func listProducts(t *testing.T, a *testApp) []productJSON {
	t.Helper()

	status, body := get(t, a.ts.URL+"/products")
	if status != http.StatusOK {
		t.Fatalf("GET /products = %d: %s", status, body)
	}
	var out []productJSON
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	return out
}

func createProduct(t *testing.T, a *testApp, fields map[string]string, file *filePart) mutationJSON {
	t.Helper()

	status, body := do(t, multipartRequest(t, http.MethodPost, a.ts.URL+"/products", fields, file))
	if status != http.StatusCreated {
		t.Fatalf("POST /products = %d: %s", status, body)
	}
	return decodeMutation(t, body)
}

var chairFields = map[string]string{
	"titulo":    "Chair",
	"descricao": "Wood chair",
	"preco":     "49.90",
}

func pngFile(name string) *filePart {
	return &filePart{name: name, contentType: "image/png", data: []byte("not really a png")}
}

func TestListStartsEmpty(t *testing.T) {
	a := newTestApp(t)

	status, body := get(t, a.ts.URL+"/products")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		t.Fatalf("body = %q, want a JSON array", body)
	}
	if got := listProducts(t, a); len(got) != 0 {
		t.Fatalf("fresh catalog has %d products", len(got))
	}
}

func TestCreateWithoutFile(t *testing.T) {
	a := newTestApp(t)

	m := createProduct(t, a, chairFields, nil)
	if m.Message == "" {
		t.Errorf("empty message")
	}
	p := m.Product
	if p.ID == "" {
		t.Errorf("empty id")
	}
	if p.FotoURL != nil {
		t.Errorf("fotoUrl = %q, want null", *p.FotoURL)
	}
	if p.Preco != 49.90 {
		t.Errorf("preco = %v", p.Preco)
	}
	if !p.CreatedAt.Equal(p.UpdatedAt) {
		t.Errorf("createdAt %v != updatedAt %v", p.CreatedAt, p.UpdatedAt)
	}

	if got := listProducts(t, a); len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("list = %+v", got)
	}
}

func TestCreateNegativePrice(t *testing.T) {
	a := newTestApp(t)

	fields := map[string]string{"titulo": "Chair", "descricao": "d", "preco": "-1"}
	status, body := do(t, multipartRequest(t, http.MethodPost, a.ts.URL+"/products", fields, nil))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", status, body)
	}
	if !strings.Contains(string(body), "non-negative") {
		t.Errorf("body %q does not mention non-negative", body)
	}
	if got := listProducts(t, a); len(got) != 0 {
		t.Fatalf("repository changed: %+v", got)
	}
}

func TestCreateUnparsablePrice(t *testing.T) {
	a := newTestApp(t)

	fields := map[string]string{"titulo": "Chair", "descricao": "d", "preco": "abc"}
	status, _ := do(t, multipartRequest(t, http.MethodPost, a.ts.URL+"/products", fields, nil))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if got := listProducts(t, a); len(got) != 0 {
		t.Fatalf("repository changed: %+v", got)
	}
}

func TestCreateMissingFieldRollsBackUpload(t *testing.T) {
	a := newTestApp(t)

	fields := map[string]string{"descricao": "d", "preco": "10"}
	status, _ := do(t, multipartRequest(t, http.MethodPost, a.ts.URL+"/products", fields, pngFile("a.png")))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if files := a.uploadedFiles(t); len(files) != 0 {
		t.Fatalf("orphaned uploads left behind: %v", files)
	}
}

func TestCreateRejectsDisallowedFileType(t *testing.T) {
	a := newTestApp(t)

	file := &filePart{name: "notes.txt", contentType: "text/plain", data: []byte("x")}
	status, _ := do(t, multipartRequest(t, http.MethodPost, a.ts.URL+"/products", chairFields, file))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if files := a.uploadedFiles(t); len(files) != 0 {
		t.Fatalf("rejected upload persisted: %v", files)
	}
	if got := listProducts(t, a); len(got) != 0 {
		t.Fatalf("repository changed: %+v", got)
	}
}

func TestCreateRejectsOversizedFile(t *testing.T) {
	a := newTestApp(t)

	file := &filePart{name: "big.jpg", contentType: "image/jpeg", data: make([]byte, images.MaxSize+1)}
	status, body := do(t, multipartRequest(t, http.MethodPost, a.ts.URL+"/products", chairFields, file))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", status, body)
	}
	if files := a.uploadedFiles(t); len(files) != 0 {
		t.Fatalf("oversized upload persisted: %v", files)
	}
}

func TestCreateWithImageServesIt(t *testing.T) {
	a := newTestApp(t)

	m := createProduct(t, a, chairFields, pngFile("foto.png"))
	if m.Product.FotoURL == nil {
		t.Fatalf("fotoUrl is null")
	}
	if !strings.HasPrefix(*m.Product.FotoURL, "/uploads/") {
		t.Fatalf("fotoUrl = %q", *m.Product.FotoURL)
	}

	status, body := get(t, a.ts.URL+*m.Product.FotoURL)
	if status != http.StatusOK {
		t.Fatalf("GET %s = %d", *m.Product.FotoURL, status)
	}
	if string(body) != "not really a png" {
		t.Errorf("served bytes = %q", body)
	}
}

func TestGetByID(t *testing.T) {
	a := newTestApp(t)

	created := createProduct(t, a, chairFields, nil).Product

	status, body := get(t, a.ts.URL+"/products/"+created.ID)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got productJSON
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != created.ID || got.Titulo != "Chair" {
		t.Fatalf("got = %+v", got)
	}

	status, _ = get(t, a.ts.URL+"/products/unknown-id")
	if status != http.StatusNotFound {
		t.Fatalf("GET unknown = %d", status)
	}
}

func TestPutUnknownID(t *testing.T) {
	a := newTestApp(t)

	fields := map[string]string{"titulo": "X"}
	status, _ := do(t, multipartRequest(t, http.MethodPut, a.ts.URL+"/products/unknown-id", fields, nil))
	if status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
}

func TestPutPartialUpdate(t *testing.T) {
	a := newTestApp(t)

	created := createProduct(t, a, chairFields, nil).Product

	fields := map[string]string{"preco": "59.90"}
	status, body := do(t, multipartRequest(t, http.MethodPut, a.ts.URL+"/products/"+created.ID, fields, nil))
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	got := decodeMutation(t, body).Product
	if got.Titulo != "Chair" || got.Descricao != "Wood chair" {
		t.Errorf("unsupplied fields changed: %+v", got)
	}
	if got.Preco != 59.90 {
		t.Errorf("preco = %v", got.Preco)
	}
}

func TestPutInvalidPriceLeavesProductAlone(t *testing.T) {
	a := newTestApp(t)

	created := createProduct(t, a, chairFields, nil).Product

	fields := map[string]string{"preco": "abc"}
	status, _ := do(t, multipartRequest(t, http.MethodPut, a.ts.URL+"/products/"+created.ID, fields, nil))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}

	got := listProducts(t, a)
	if len(got) != 1 || got[0].Preco != 49.90 {
		t.Fatalf("product modified: %+v", got)
	}
}

func TestPutNewImageReplacesOldFile(t *testing.T) {
	a := newTestApp(t)

	created := createProduct(t, a, chairFields, pngFile("old.png")).Product
	oldRef := *created.FotoURL

	status, body := do(t, multipartRequest(t, http.MethodPut, a.ts.URL+"/products/"+created.ID, nil, pngFile("new.png")))
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	got := decodeMutation(t, body).Product
	if got.FotoURL == nil || *got.FotoURL == oldRef {
		t.Fatalf("fotoUrl not swapped: %+v", got.FotoURL)
	}

	// old file removal is best-effort and asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := get(t, a.ts.URL+oldRef); st == http.StatusNotFound {
			if files := a.uploadedFiles(t); len(files) == 1 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("old image still retrievable, dir: %v", a.uploadedFiles(t))
}

func TestDeleteTwice(t *testing.T) {
	a := newTestApp(t)

	created := createProduct(t, a, chairFields, nil).Product

	req, err := http.NewRequest(http.MethodDelete, a.ts.URL+"/products/"+created.ID, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	status, body := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("first delete = %d: %s", status, body)
	}
	if got := decodeMutation(t, body).Product; got.ID != created.ID {
		t.Fatalf("deleted product = %+v", got)
	}

	req, err = http.NewRequest(http.MethodDelete, a.ts.URL+"/products/"+created.ID, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if status, _ := do(t, req); status != http.StatusNotFound {
		t.Fatalf("second delete = %d", status)
	}

	if got := listProducts(t, a); len(got) != 0 {
		t.Fatalf("list after delete = %+v", got)
	}
}

func TestWebsocketReceivesCatalogSnapshots(t *testing.T) {
	a := newTestApp(t)

	url := "ws" + strings.TrimPrefix(a.ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer func() { _ = c.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for a.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	created := createProduct(t, a, chairFields, nil).Product

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got struct {
		Event string        `json:"event"`
		Data  []productJSON `json:"data"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
	if got.Event != "products" {
		t.Errorf("event = %q", got.Event)
	}
	if len(got.Data) != 1 || got.Data[0].ID != created.ID {
		t.Fatalf("snapshot = %+v", got.Data)
	}
}
