package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/core"
	"github.com/JonMunkholm/sukl/internal/store"
)

func importConfig(dir string) config.ImportConfig {
	return config.ImportConfig{
		Charset:       "windows-1250",
		Delimiter:     ";",
		MaxFileSize:   1 << 20,
		MaxConcurrent: 1,
		MaxWaitTime:   time.Second,
		Timeout:       time.Minute,
		FetchTimeout:  time.Minute,
		SourceDir:     dir,
	}
}

func TestImportOptions(t *testing.T) {
	opts := ImportOptions(config.ImportConfig{Charset: "utf-8", Delimiter: ","})
	assert.Equal(t, "utf-8", opts.Charset)
	assert.Equal(t, ',', opts.Delimiter)
}

func TestNewService_RejectsUnknownCharset(t *testing.T) {
	cfg := importConfig(t.TempDir())
	cfg.Charset = "klingon"

	_, err := NewService(store.NewMemory(), NewFetcher(cfg), cfg, core.MonthlyPeriod(2017, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownCharset)
}

func TestNewService_ProcessesFileFromSourceDir(t *testing.T) {
	dir := t.TempDir()
	// "Č" is 0xC8 in windows-1250.
	data := []byte("KOD_SUKL;NAZEV\n0000001;\xC8aj\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lek-2017-01.csv"), data, 0o644))

	mem := store.NewMemory()
	cfg := importConfig(dir)
	svc, err := NewService(mem, NewFetcher(cfg), cfg, core.MonthlyPeriod(2017, 1))
	require.NoError(t, err)

	res, err := svc.Process(context.Background(), core.Descriptor{
		Type:     core.Reference,
		Period:   core.MonthlyPeriod(2017, 1),
		Location: "lek-2017-01.csv",
	})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, res.Status)

	versions := mem.Versions()
	require.Len(t, versions, 1)
	assert.Equal(t, "Čaj", versions[0].Attributes["name"])
	assert.Equal(t, 1, svc.LimiterStatus().MaxConcurrent)
}
