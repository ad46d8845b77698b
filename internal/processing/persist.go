package processing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/multierr"
)

const SAVE_FILE_NAME = "sensor_data.txt"

var ErrNoSaveDirectory = errors.New("no directory chosen")

// SaveSeries writes one value per line to SAVE_FILE_NAME inside dir, replacing any previous
// file, and returns the path written.
func SaveSeries(dir string, samples []Sample) (path string, err error) {
	if dir == "" {
		return "", ErrNoSaveDirectory
	}

	path = filepath.Join(dir, SAVE_FILE_NAME)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("error opening %s: %w", path, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(file))

	writer := bufio.NewWriter(file)
	buf := make([]byte, 0, 32)
	for _, sample := range samples {
		buf = appendSample(buf[:0], sample)
		buf = append(buf, '\n')
		if _, err := writer.Write(buf); err != nil {
			return path, fmt.Errorf("error writing %s: %w", path, err)
		}
	}

	if err := writer.Flush(); err != nil {
		return path, fmt.Errorf("error flushing %s: %w", path, err)
	}
	return path, nil
}

// appendSample writes the shortest decimal that round-trips, always with a fractional part
// ("1.0", "1234567.0"). Magnitudes below 1e-4 or from 1e16 up use exponent form.
func appendSample(buf []byte, sample Sample) []byte {
	v := float64(sample)
	switch {
	case math.IsNaN(v):
		return append(buf, "nan"...)
	case math.IsInf(v, 1):
		return append(buf, "inf"...)
	case math.IsInf(v, -1):
		return append(buf, "-inf"...)
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.AppendFloat(buf, v, 'e', -1, 64)
	}

	start := len(buf)
	buf = strconv.AppendFloat(buf, v, 'f', -1, 64)
	if !bytes.ContainsRune(buf[start:], '.') {
		buf = append(buf, ".0"...)
	}
	return buf
}
