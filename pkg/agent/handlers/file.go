package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/weldcode/weld/pkg/agent/protocol"
)

// FileWriteHandler handles file write operations.
type FileWriteHandler struct{}

// Handle writes content to a file, creating parent directories as needed.
func (h *FileWriteHandler) Handle(_ context.Context, params *protocol.FileWriteParams) (*protocol.FileWriteResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	_, err := os.Stat(params.Path)
	fileExists := err == nil

	if err := os.MkdirAll(filepath.Dir(params.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	content := []byte(params.Content)
	if err := os.WriteFile(params.Path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	if params.Mode != "" {
		mode, err := strconv.ParseUint(params.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode: %w", err)
		}
		if err := os.Chmod(params.Path, os.FileMode(mode)); err != nil {
			return nil, fmt.Errorf("failed to set mode: %w", err)
		}
	}

	hash := sha256.Sum256(content)
	return &protocol.FileWriteResult{
		BytesWritten: int64(len(content)),
		Created:      !fileExists,
		Checksum:     fmt.Sprintf("%x", hash),
	}, nil
}

// FileReadHandler handles file read operations.
type FileReadHandler struct{}

// Handle reads content from a file.
func (h *FileReadHandler) Handle(_ context.Context, params *protocol.FileReadParams) (*protocol.FileReadResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	info, err := os.Stat(params.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	maxBytes := params.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10 * 1024 * 1024 // 10 MB default limit
	}

	file, err := os.Open(params.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content := buf[:n]
	hash := sha256.Sum256(content)
	return &protocol.FileReadResult{
		Content:   string(content),
		Size:      info.Size(),
		Checksum:  fmt.Sprintf("%x", hash),
		Truncated: int64(n) >= maxBytes,
	}, nil
}

// FileDeleteHandler handles file delete operations.
type FileDeleteHandler struct{}

// Handle removes a file. Deleting a missing file is not an error.
func (h *FileDeleteHandler) Handle(_ context.Context, params *protocol.FileDeleteParams) (*protocol.FileDeleteResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	err := os.Remove(params.Path)
	if os.IsNotExist(err) {
		return &protocol.FileDeleteResult{Existed: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}
	return &protocol.FileDeleteResult{Existed: true}, nil
}

// FileListHandler handles file listing.
type FileListHandler struct{}

// Handle lists regular files under a directory.
func (h *FileListHandler) Handle(_ context.Context, params *protocol.FileListParams) (*protocol.FileListResult, error) {
	if params.Dir == "" {
		return nil, fmt.Errorf("dir is required")
	}

	result := &protocol.FileListResult{Paths: []string{}}

	if !params.Recursive {
		entries, err := os.ReadDir(params.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				result.Paths = append(result.Paths, filepath.Join(params.Dir, entry.Name()))
			}
		}
		return result, nil
	}

	err := filepath.WalkDir(params.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// node_modules and build output are huge and never interesting to
		// the controller.
		if d.IsDir() {
			switch d.Name() {
			case "node_modules", ".next", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		result.Paths = append(result.Paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return result, nil
}
