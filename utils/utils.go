package utils

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

var quiltSourceDir string

func init() {
	_, file, _, _ := runtime.Caller(0)
	// compatible solution to get quilt source directory with various operating systems
	quiltSourceDir = sourceDir(file)
}

func sourceDir(file string) string {
	dir := filepath.Dir(file)
	dir = filepath.Dir(dir)

	s := filepath.Dir(dir)
	if filepath.Base(s) != "quiltdb" {
		s = dir
	}
	return filepath.ToSlash(s) + "/"
}

// FileWithLineNum return the file name and line number of the current file
func FileWithLineNum() string {
	// the second caller usually from quilt internal, so set i start from 2
	for i := 2; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if ok && (!strings.HasPrefix(file, quiltSourceDir) || strings.HasSuffix(file, "_test.go")) {
			return file + ":" + strconv.FormatInt(int64(line), 10)
		}
	}

	return ""
}

// ToStringKey build a composite map key from primary key values
func ToStringKey(values ...interface{}) string {
	results := make([]string, len(values))

	for idx, value := range values {
		switch v := value.(type) {
		case string:
			results[idx] = v
		case []byte:
			results[idx] = string(v)
		case uint:
			results[idx] = strconv.FormatUint(uint64(v), 10)
		case nil:
			results[idx] = ""
		default:
			results[idx] = fmt.Sprint(reflect.Indirect(reflect.ValueOf(v)).Interface())
		}
	}

	return strings.Join(results, "_")
}

// ToString convert a single value to its string form
func ToString(value interface{}) string {
	if value == nil {
		return ""
	}
	return ToStringKey(value)
}

// Contains check whether elems contains elem
func Contains(elems []string, elem string) bool {
	for _, e := range elems {
		if elem == e {
			return true
		}
	}
	return false
}

// EqualKeys report whether two primary key values are the same key,
// comparing their string forms so 1 and "1" match across store backends.
func EqualKeys(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	return ToString(a) == ToString(b)
}
