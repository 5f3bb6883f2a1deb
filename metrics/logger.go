package metrics

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *MetricsInfo)
}

type StdoutLogger struct {
	logger *zap.Logger
}

func NewStdoutLogger(logger *zap.Logger) *StdoutLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdoutLogger{logger: logger}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		l.logger.Info("metrics", zap.String("req_id", info.ReqID), zap.String("info", strings.TrimSpace(infoStr)))
	} else {
		l.logger.Error("StdoutLogger: ToJSON failed", zap.Error(err))
	}
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends one JSON document per request to log<i> files in
// LogDir, rotating to log<i>.<n> when a file exceeds MaxLogFileSize.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool, logger *zap.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
		logger:         logger,
	}

	for i := 0; i < defaultLogWriters; i++ {
		l.wg.Add(1)
		go l.startLogWriter(i)
	}

	return l
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for the writers to finish.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()
	log := l.logger.With(zap.Int("writer", idx))

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Error("FileLogger: log open error", zap.Error(err))
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Error("FileLogger: ToJSON failed", zap.Error(err))
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		_, err = f.WriteString(infoStr)
		if err != nil {
			log.Error("FileLogger: write error", zap.Error(err))
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) logFileName(idx int) string {
	return path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	return os.OpenFile(l.logFileName(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	log := l.logger.With(zap.Int("writer", idx))
	if currFile == nil {
		return l.openLogFile(idx)
	}

	info, err := currFile.Stat()
	if err != nil {
		log.Error("FileLogger: log rotation error", zap.Error(err))
		return currFile, nil
	}

	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currLogFilePath := l.logFileName(idx)
	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		files, err := ioutil.ReadDir(l.LogDir)
		if err != nil {
			log.Error("FileLogger: log rotation error", zap.Error(err))
			return currFile, nil
		}

		var oldestFile os.FileInfo
		oldestTime := time.Now()
		for _, file := range files {
			if !file.Mode().IsRegular() {
				continue
			}

			fileName := filepath.Base(file.Name())
			fn := strings.TrimSuffix(fileName, path.Ext(fileName))
			if fn != fmt.Sprintf("log%d", idx) || fileName == fn {
				continue
			}

			if file.ModTime().Before(oldestTime) {
				oldestFile = file
				oldestTime = file.ModTime()
			}
		}

		if oldestFile != nil {
			rotatedLogFilePath = path.Join(l.LogDir, oldestFile.Name())
		} else {
			rotatedLogFilePath = path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, 0))
		}

		if l.Verbose {
			log.Info("FileLogger: maximum number of log files reached", zap.String("overwriting", rotatedLogFilePath))
		}
		err = os.Remove(rotatedLogFilePath)
		if err != nil && !os.IsNotExist(err) {
			log.Error("FileLogger: log rotation error", zap.Error(err))
			return currFile, nil
		}
	}

	currFile.Close()
	err = os.Rename(currLogFilePath, rotatedLogFilePath)
	if err != nil {
		log.Error("FileLogger: log rotation error", zap.Error(err))
		return l.openLogFile(idx)
	}

	if l.Verbose {
		log.Info("FileLogger: log file rotated", zap.String("path", rotatedLogFilePath))
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Error("FileLogger: log rotation error", zap.Error(err))
	}

	return f, err
}
