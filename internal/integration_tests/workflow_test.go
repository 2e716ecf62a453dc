//go:build integration

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backend "cracknum-backend/internal/api"
	"cracknum-backend/internal/config"
	"cracknum-backend/internal/core"
	"cracknum-backend/internal/database"
	"cracknum-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Cracks every hash it is given with a fixed phone number.
const fakeHashcat = `
for a in "$@"; do
	if [ "$a" = "--show" ]; then
		sed 's/$/:79001234567/' "$4"
		exit 0
	fi
done

out=""
prev=""
for a in "$@"; do
	if [ "$prev" = "--outfile" ]; then out="$a"; fi
	prev="$a"
done

echo "Progress.........: 1/2 (50.00%)"
sed 's/$/:79001234567/' "$5" > "$out"
echo "Progress.........: 2/2 (100.00%)"
`

func writeFakeHashcat(t *testing.T) config.Hashcat {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	path := filepath.Join(t.TempDir(), "hashcat.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeHashcat), 0755))
	return config.Hashcat{Bin: path, CmdTemplate: sh + " {HASHCAT_BIN}", AllowExecution: true}
}

type apiClient struct {
	router http.Handler
	token  string
}

func (c *apiClient) call(t *testing.T, method, endpoint string, body *bytes.Buffer, contentType string, dest any) {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, endpoint, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	if dest != nil {
		if s, ok := dest.(*string); ok {
			*s = rec.Body.String()
			return
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
	}
}

func TestCrackWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	hashcat := writeFakeHashcat(t)

	db := createDB(t)
	store := setupS3Provider(t, ctx)
	publisher, receiver := setupRabbitMQContainer(t, ctx)

	authCfg := config.Auth{
		JWTSecret:     "integration",
		JWTIssuer:     "cracknum",
		JWTAudience:   "cracknum-clients",
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour,
		AdminUser:     "admin",
		AdminPassword: "admin",
	}

	router := chi.NewRouter()
	backend.NewBackendService(db, store, publisher, backend.NewAuthenticator(db, authCfg)).AddRoutes(router)

	job, err := core.NewJob(hashcat, core.Timings{
		PollInterval: 20 * time.Millisecond,
		GraceWindow:  time.Second,
		JoinTimeout:  time.Second,
	})
	require.NoError(t, err)

	processor := core.NewTaskProcessor(db, store, receiver, job, config.Worker{
		RuntimeDir:  t.TempDir(),
		JobTimeout:  time.Minute,
		Concurrency: 1,
	})
	go processor.Start()

	client := &apiClient{router: router}

	var token api.TokenResponse
	login, _ := json.Marshal(api.LoginRequest{Username: "admin", Password: "admin"})
	client.call(t, http.MethodPost, "/token", bytes.NewBuffer(login), "application/json", &token)
	client.token = token.AccessToken

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("file", "hashes.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("hash,name\nabc,one\ndef,two\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	var upload api.UploadResponse
	client.call(t, http.MethodPost, "/upload", &form, writer.FormDataContentType(), &upload)

	crack, _ := json.Marshal(api.CrackRequest{Salt: "pepper"})
	client.call(t, http.MethodPost, "/crack/"+upload.TaskId, bytes.NewBuffer(crack), "application/json", nil)

	var status api.TaskStatus
	require.Eventually(t, func() bool {
		client.call(t, http.MethodGet, "/status/"+upload.TaskId, nil, "", &status)
		return database.IsTerminal(status.Status)
	}, 2*time.Minute, 200*time.Millisecond)

	assert.Equal(t, database.TaskFinished, status.Status, status.Message)
	assert.Equal(t, 2, status.Cracked)
	assert.Equal(t, 2, status.Total)
	assert.InDelta(t, 100, status.Progress, 1e-9)

	var logs api.LogChunk
	client.call(t, http.MethodGet, "/logs/"+upload.TaskId, nil, "", &logs)
	assert.Equal(t, len(logs.Lines), logs.Cursor)
	assert.Contains(t, strings.Join(logs.Lines, "\n"), "✅")

	var result string
	client.call(t, http.MethodGet, "/download/"+upload.TaskId, nil, "", &result)
	assert.Equal(t, "abc:pepper:79001234567\ndef:pepper:79001234567\n", result)
}
