// Package jsonl 实现异步 JSONL 文件写入与策略事件记录。
// Write 只负责投递到带缓冲的 channel，JSON 编码、文件 I/O 与按大小滚动均在后台 goroutine 完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("writer 已关闭")

type opKind uint8

const (
	kindRecord opKind = iota
	kindFlush
	kindClose
)

type request struct {
	kind  opKind
	value any
	ack   chan error
}

// Writer 异步 JSONL 写入器
// 调用方只投递请求，编码、落盘与滚动由单个后台 goroutine 串行完成。
type Writer struct {
	path     string
	maxBytes int64
	reqs     chan request

	// mu 保护 closed，保证关闭后不再向 reqs 投递
	mu       sync.Mutex
	closed   bool
	closeErr error
	done     chan struct{}

	dropped   atomic.Int64
	rotations atomic.Int64
}

// NewWriter 创建 JSONL 写入器
// 参数 path: 输出文件路径，目录不存在时自动创建
// 参数 bufferSize: 待写请求队列长度，<=0 时取 1000
// 参数 maxBytes: 单文件最大字节数，超过后滚动为 path.<UTC 时间戳>，0 表示不滚动
func NewWriter(path string, bufferSize int, maxBytes int64) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, size, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		path:     path,
		maxBytes: maxBytes,
		reqs:     make(chan request, bufferSize),
		done:     make(chan struct{}),
	}
	go w.run(f, size)
	return w, nil
}

func openAppend(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("打开输出文件失败: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("读取文件信息失败: %w", err)
	}
	return f, st.Size(), nil
}

// Path 输出文件路径
func (w *Writer) Path() string { return w.path }

// send 在未关闭时投递请求，队列满时阻塞
func (w *Writer) send(r request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.reqs <- r
	return nil
}

// Write 投递一条记录，编码失败的记录计入 Dropped
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	return w.send(request{kind: kindRecord, value: v})
}

// Flush 等待此前投递的记录全部写入文件
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	ack := make(chan error, 1)
	if err := w.send(request{kind: kindFlush, ack: ack}); err != nil {
		return nil
	}
	return <-ack
}

// Close 写完队列中的记录后关闭文件，可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if !w.closed {
		ack := make(chan error, 1)
		w.reqs <- request{kind: kindClose, ack: ack}
		w.closed = true
		w.closeErr = <-ack
	}
	err := w.closeErr
	w.mu.Unlock()
	<-w.done
	return err
}

// Dropped 编码失败丢弃的记录数
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Rotations 已滚动次数
func (w *Writer) Rotations() int64 { return w.rotations.Load() }

func (w *Writer) run(f *os.File, size int64) {
	defer close(w.done)

	bw := bufio.NewWriterSize(f, 1<<20)
	defer func() { _ = f.Close() }()

	for r := range w.reqs {
		switch r.kind {
		case kindRecord:
			line, err := json.Marshal(r.value)
			if err != nil {
				w.dropped.Add(1)
				continue
			}
			line = append(line, '\n')
			if w.maxBytes > 0 && size > 0 && size+int64(len(line)) > w.maxBytes {
				if nf, err := w.rotate(bw, f); err == nil {
					f = nf
					bw.Reset(f)
					size = 0
				}
			}
			n, _ := bw.Write(line)
			size += int64(n)
		case kindFlush:
			r.ack <- bw.Flush()
		case kindClose:
			r.ack <- bw.Flush()
			return
		}
	}
}

// rotate 关闭当前文件、重命名并打开新文件
func (w *Writer) rotate(bw *bufio.Writer, f *os.File) (*os.File, error) {
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	rotated := w.path + "." + time.Now().UTC().Format("20060102T150405.000000000")
	if err := os.Rename(w.path, rotated); err != nil {
		// 重命名失败时继续追加原文件
		nf, _, openErr := openAppend(w.path)
		if openErr != nil {
			return nil, openErr
		}
		return nf, nil
	}
	nf, _, err := openAppend(w.path)
	if err != nil {
		return nil, err
	}
	w.rotations.Add(1)
	return nf, nil
}
