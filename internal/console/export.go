package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ashureev/wschat/internal/domain"
)

// ExportFileName is the default file name for a snapshot taken at t.
func ExportFileName(clientID string, t time.Time) string {
	return fmt.Sprintf("chat_export_%s_%s.json", clientID, t.Format("2006-01-02"))
}

// EncodeSnapshot writes snap as indented JSON.
func EncodeSnapshot(w io.Writer, snap domain.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// WriteExport writes snap to path, replacing any existing file.
func WriteExport(path string, snap domain.Snapshot) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := EncodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}
