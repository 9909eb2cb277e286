// Copyright 2024-2026 Aiku AI

package tavern

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Character is the profile file written for each provisioned conversation.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Creator     string `json:"creator"`
	Avatar      string `json:"avatar"`
}

// CharacterPath returns <data>/characters/<name>.json.
func CharacterPath(dataDir, character string) string {
	return filepath.Join(dataDir, "characters", character+".json")
}

// ChatPath returns <data>/chats/<name>/<file>.jsonl.
func ChatPath(dataDir, character, file string) string {
	return filepath.Join(dataDir, "chats", character, file+".jsonl")
}

// LocalProvisioner creates the tavern's on-disk layout directly, for setups
// where the bridge can reach the tavern's data directory.
type LocalProvisioner struct {
	DataDir string
	Creator string

	now func() time.Time
}

var _ Provisioner = (*LocalProvisioner)(nil)

// NewLocalProvisioner creates a provisioner rooted at dataDir.
func NewLocalProvisioner(dataDir, creator string) *LocalProvisioner {
	return &LocalProvisioner{DataDir: dataDir, Creator: creator, now: time.Now}
}

// Provision creates the character file and a chat file holding only a header,
// skipping whichever already exists.
func (p *LocalProvisioner) Provision(_ context.Context, character, file, owner string) error {
	charPath := CharacterPath(p.DataDir, character)
	exists, err := fileExists(charPath)
	if err != nil {
		return err
	}
	if !exists {
		profile := Character{
			Name:        character,
			Description: fmt.Sprintf("Mirrored conversation %s", character),
			Creator:     p.Creator,
			Avatar:      AvatarURL(character),
		}
		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode character %s: %w", character, err)
		}
		if err := writeFileAtomic(charPath, data); err != nil {
			return fmt.Errorf("failed to write character %s: %w", character, err)
		}
	}

	chatPath := ChatPath(p.DataDir, character, file)
	exists, err = fileExists(chatPath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if owner == "" {
		return ErrUnknownLocalUser
	}
	header, err := json.Marshal(NewHeader(owner, character, p.now()))
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	if err := writeFileAtomic(chatPath, append(header, '\n')); err != nil {
		return fmt.Errorf("failed to write chat %s/%s: %w", character, file, err)
	}
	return nil
}

// LocalStore keeps chat files as JSONL under the tavern's data directory,
// one element per line with the header first.
type LocalStore struct {
	DataDir string
	log     zerolog.Logger
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at dataDir.
func NewLocalStore(dataDir string, log zerolog.Logger) *LocalStore {
	return &LocalStore{
		DataDir: dataDir,
		log:     log.With().Str("component", "local_store").Logger(),
	}
}

// Fetch reads the chat file. A missing file is an empty log; lines that are
// not valid JSON are skipped with a warning and disappear on the next Save.
func (s *LocalStore) Fetch(_ context.Context, character, file string) (Log, error) {
	f, err := os.Open(ChatPath(s.DataDir, character, file))
	if errors.Is(err, fs.ErrNotExist) {
		return Log{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	sc.Buffer(buf, 10*1024*1024)
	log := Log{}
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			s.log.Warn().
				Str("character", character).
				Str("file", file).
				Int("line", lineNo).
				Int("bytes", len(line)).
				Msg("Dropping invalid chat line")
			continue
		}
		log = append(log, json.RawMessage(bytes.Clone(line)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return log, nil
}

// Save rewrites the whole chat file.
func (s *LocalStore) Save(_ context.Context, character, file string, log Log) error {
	var buf bytes.Buffer
	for i, raw := range log {
		line, err := compactLine(raw)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(ChatPath(s.DataDir, character, file), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write chat %s/%s: %w", character, file, err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
