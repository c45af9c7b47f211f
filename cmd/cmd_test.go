package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const purchaseHeader = "Nombre Productor,Código Productor,Cacao en Baba (qq),Cacao Seco (qq),Fecha de Entrega,Número de Recibo\n"

// workspace writes a config.yaml rooted in a temporary directory.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := "input_dir: " + filepath.Join(dir, "input") + "\n" +
		"output_dir: " + filepath.Join(dir, "output") + "\n" +
		"input_archive_dir: " + filepath.Join(dir, "input_archive") + "\n" +
		"output_archive_dir: " + filepath.Join(dir, "output_archive") + "\n" +
		"stations_dir: " + filepath.Join(dir, "stations") + "\n" +
		"log_level: error\n" +
		"output_name_format: \"{original}\"\n" +
		"output_formats: [csv]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "input"), 0755))
	return dir, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Report Kapp")
	assert.Contains(t, out, "Version:    "+Version)
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "hash-password", "password")
	require.NoError(t, err)

	hash := strings.TrimSuffix(out, "\n")
	assert.True(t, strings.HasPrefix(hash, "$2a$"), hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("password")))
}

func TestTransformCommand(t *testing.T) {
	dir, cfgPath := workspace(t)
	input := filepath.Join(dir, "compras.csv")
	require.NoError(t, os.WriteFile(input, []byte(purchaseHeader+"Juan,P-001,10,20,2024-03-15,R-1\n"), 0644))
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "--config", cfgPath, "transform",
		"--file", input,
		"--out", outDir,
		"--loading-date", "2024-03-21",
		"--origin-warehouse", "BODEGA",
		"--origin-warehouse-code", "BW1",
		"--delivery-number", "GR-9",
		"--buying-station", "Quevedo",
		"--product", "CACAO",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Sacks:       20")

	loading, err := os.ReadFile(filepath.Join(outDir, "compras_loading.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(loading), "2024-03-21,BODEGA,BW1,ECUADOR DIRECT,DIR,GR-9,Quevedo,CACAO,,XX,XX,20,1361,1361\n")

	buying, err := os.ReadFile(filepath.Join(outDir, "compras_buying.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(buying), "GR-9,Quevedo,Juan,P-001,2024-03-15,917,R-1\n")

	// The input is left in place by single file runs.
	assert.FileExists(t, input)
}

func TestTransformCommand_InvalidLoadingDate(t *testing.T) {
	dir, cfgPath := workspace(t)
	input := filepath.Join(dir, "compras.csv")
	require.NoError(t, os.WriteFile(input, []byte(purchaseHeader), 0644))

	_, err := execute(t, "--config", cfgPath, "transform", "--file", input, "--loading-date", "21/03/2024")
	assert.ErrorContains(t, err, "--loading-date")
}

func TestProcessCommand_SameSecondOutputsDoNotCollide(t *testing.T) {
	dir, cfgPath := workspace(t)
	cfg, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	cfg = bytes.Replace(cfg, []byte(`output_name_format: "{original}"`), []byte(`output_name_format: "{station}_{delivery}_{timestamp}"`), 1)
	require.NoError(t, os.WriteFile(cfgPath, cfg, 0644))

	inputDir := filepath.Join(dir, "input")
	rows := map[string]string{
		"a.csv": "Juan,P-001,10,20,2024-03-15,R-1\n",
		"b.csv": "Ana,P-002,5,5,2024-03-15,R-2\nLuis,P-003,1,1,2024-03-15,R-3\n",
	}
	for name, body := range rows {
		require.NoError(t, os.WriteFile(filepath.Join(inputDir, name), []byte(purchaseHeader+body), 0644))
	}

	out, err := execute(t, "--config", cfgPath, "process")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Successful:      2")

	outputDir := filepath.Join(dir, "output")
	loading, err := filepath.Glob(filepath.Join(outputDir, "*_loading.csv"))
	require.NoError(t, err)
	buying, err := filepath.Glob(filepath.Join(outputDir, "*_buying.csv"))
	require.NoError(t, err)
	require.Len(t, loading, 2)
	require.Len(t, buying, 2)

	// Each Buying file holds its own input's producers.
	var rowCounts []int
	for _, path := range buying {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		rowCounts = append(rowCounts, strings.Count(string(content), "\n")-1)
	}
	assert.ElementsMatch(t, []int{1, 2}, rowCounts)
}

func TestProcessCommand(t *testing.T) {
	dir, cfgPath := workspace(t)
	inputDir := filepath.Join(dir, "input")
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "good.csv"),
		[]byte(purchaseHeader+"Juan,P-001,10,20,2024-03-15,R-1\nAna,P-002,5,0,,R-2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "bad.csv"),
		[]byte("Nombre Productor\nJuan\n"), 0644))

	out, err := execute(t, "--config", cfgPath, "process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 file(s) failed")
	assert.Contains(t, out, "✓ good.csv: 2 rows")
	assert.Contains(t, out, "✗ bad.csv")

	outputDir := filepath.Join(dir, "output")
	assert.FileExists(t, filepath.Join(outputDir, "good_loading.csv"))
	assert.FileExists(t, filepath.Join(outputDir, "good_buying.csv"))

	// Failed inputs stay put, processed inputs are archived.
	assert.FileExists(t, filepath.Join(inputDir, "bad.csv"))
	assert.NoFileExists(t, filepath.Join(inputDir, "good.csv"))
	archived, err := filepath.Glob(filepath.Join(dir, "input_archive", "*", "*", "*", "good.csv"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	logs, err := filepath.Glob(filepath.Join(outputDir, "error_log_*.txt"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	errorLog, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(errorLog), "missing_columns")

	summaries, err := filepath.Glob(filepath.Join(outputDir, "processing_summary_*.yaml"))
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}
