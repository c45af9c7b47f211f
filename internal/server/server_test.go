package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/ginjaninja78/report-kapp/internal/auth"
	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/transform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const header = "Nombre Productor,Código Productor,Cacao en Baba (qq),Cacao Seco (qq),Fecha de Entrega,Número de Recibo\n"

func testConfig() *config.MainConfig {
	return &config.MainConfig{
		Columns: transform.DefaultColumns(),
		Server:  config.ServerConfig{MaxUploadMB: 1},
	}
}

func newTestServer(t *testing.T, verifier auth.Verifier) *Server {
	t.Helper()
	station := &config.StationConfig{
		StationName: "Centro de Acopio El Empalme",
		StationCode: "EMP",
		Defaults:    config.MetadataDefaults{OriginWarehouse: "BODEGA EMPALME", OriginWarehouseCode: "EMP01"},
	}
	require.NoError(t, station.Prepare(transform.DefaultColumns()))

	s := New(testConfig(), map[string]*config.StationConfig{"EMP": station}, verifier, zaptest.NewLogger(t))
	s.Now = func() time.Time { return time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC) }
	return s
}

// upload builds a multipart transform request.
func upload(t *testing.T, query, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transform"+query, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

var shipment = map[string]string{
	"loading_date":          "2024-03-21",
	"origin_warehouse":      "BODEGA NORTE",
	"origin_warehouse_code": "BN1",
	"delivery_number":       "GR-7",
	"buying_station":        "Quevedo",
	"product":               "CACAO",
}

func TestHealthz(t *testing.T) {
	rec := serve(newTestServer(t, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTransform_JSON(t *testing.T) {
	csv := header + "Juan,P-001,10,20,2024-03-15,R-1\n"
	rec := serve(newTestServer(t, nil), upload(t, "", "compras.csv", csv, shipment))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OriginalRows    int      `json:"original_rows"`
		OriginalHeaders []string `json:"original_headers"`
		Loading         struct {
			Headers []string        `json:"headers"`
			Rows    [][]interface{} `json:"rows"`
		} `json:"loading"`
		Buying struct {
			Rows [][]interface{} `json:"rows"`
		} `json:"buying"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.OriginalRows)
	assert.Len(t, resp.OriginalHeaders, 6)
	assert.Equal(t, "Loading Date", resp.Loading.Headers[0])
	assert.Equal(t, []interface{}{
		"2024-03-21", "BODEGA NORTE", "BN1", "ECUADOR DIRECT", "DIR", "GR-7", "Quevedo", "CACAO",
		"", "XX", "XX", float64(20), float64(1361), float64(1361),
	}, resp.Loading.Rows[0])
	assert.Equal(t, []interface{}{
		"GR-7", "Quevedo", "Juan", "P-001", "2024-03-15", float64(917), "R-1",
	}, resp.Buying.Rows[0])
}

func TestTransform_StationDefaultsAndExactWeights(t *testing.T) {
	csv := header + "Juan,P-001,10,20,2024-03-15,R-1\n"
	rec := serve(newTestServer(t, nil), upload(t, "?rounded=false", "empalme.csv", csv, map[string]string{"station": "EMP"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, `"2024-03-20","BODEGA EMPALME","EMP01"`)
	assert.Contains(t, body, `"Centro de Acopio El Empalme"`)

	// Exact weights are numbers, the same JSON type as rounded ones.
	var resp struct {
		Loading struct{ Rows [][]any }
		Buying  struct{ Rows [][]any }
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Loading.Rows, 1)
	require.Len(t, resp.Buying.Rows, 1)
	assert.Equal(t, 1360.8, resp.Loading.Rows[0][12])
	assert.Equal(t, 1360.8, resp.Loading.Rows[0][13])
	assert.Equal(t, 917.2, resp.Buying.Rows[0][5])
	assert.NotContains(t, body, `"1360.8"`)
}

func TestTransform_CSVDownload(t *testing.T) {
	csv := header + "Juan,P-001,10,20,2024-03-15,R-1\n"
	s := newTestServer(t, nil)

	rec := serve(s, upload(t, "?format=csv&table=buying", "compras.csv", csv, shipment))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="reporte_transformado.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t,
		"Official Delivery Number,Buying Station,Producer Name,Producer Code,Delivery Date,Net Weight (kg),Receipt Number\n"+
			"GR-7,Quevedo,Juan,P-001,2024-03-15,917,R-1\n",
		rec.Body.String())

	rec = serve(s, upload(t, "?format=csv", "compras.csv", csv, shipment))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Loading Date,"))
}

func TestTransform_XLSXDownload(t *testing.T) {
	csv := header + "Juan,P-001,10,20,2024-03-15,R-1\n"
	rec := serve(newTestServer(t, nil), upload(t, "?format=xlsx", "compras.csv", csv, shipment))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="reporte_transformado.xlsx"`, rec.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Loading", "Buying"}, f.GetSheetList())
}

func TestTransform_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantBody string
	}{
		{
			name:     "missing columns",
			req:      upload(t, "", "a.csv", "Nombre Productor,Fecha de Entrega\nJuan,2024-03-15\n", nil),
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `"missing_columns":["Código Productor","Cacao en Baba (qq)","Cacao Seco (qq)","Número de Recibo"]`,
		},
		{
			name:     "invalid date",
			req:      upload(t, "", "a.csv", header+"Juan,P-1,1,1,2024-03-15,R\nAna,P-2,1,1,marzo,R\n", nil),
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `"row":1`,
		},
		{
			name:     "invalid date after blank line",
			req:      upload(t, "", "a.csv", header+"Juan,P-1,1,1,2024-03-15,R\n,,,,,\nAna,P-2,1,1,marzo,R\n", nil),
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `"line":4`,
		},
		{
			name:     "no file",
			req:      upload(t, "", "", "", shipment),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "legacy workbook",
			req:      upload(t, "", "old.xls", "binary", nil),
			wantCode: http.StatusUnsupportedMediaType,
		},
		{
			name:     "bad loading date",
			req:      upload(t, "", "a.csv", header, map[string]string{"loading_date": "21/03/2024"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad format",
			req:      upload(t, "?format=pdf", "a.csv", header, nil),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown station",
			req:      upload(t, "", "a.csv", header, map[string]string{"station": "XXX"}),
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(s, tc.req)
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestTransform_RequiresAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("cacao"), bcrypt.MinCost)
	require.NoError(t, err)
	v, err := auth.NewBcryptVerifier(map[string]string{"ops": string(hash)})
	require.NoError(t, err)
	s := newTestServer(t, v)

	csv := header + "Juan,P-001,10,20,2024-03-15,R-1\n"
	rec := serve(s, upload(t, "", "a.csv", csv, shipment))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := upload(t, "", "a.csv", csv, shipment)
	req.SetBasicAuth("ops", "cacao")
	rec = serve(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health checks stay open.
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServe_Shutdown(t *testing.T) {
	s := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	transport := &http.Transport{}
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}

	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	transport.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
