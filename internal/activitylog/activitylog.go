// Package activitylog implements the in-filesystem activity log
// described in spec.md §4.7 (C7): a regular file that records every
// read/write touching user files, together with a scan for a fixed set
// of forbidden substrings. It is grounded directly in
// original_source/esqueleto/{big_brother.c,fat_fuse_ops.c}, the C
// implementation this behavior was distilled from.
package activitylog

import (
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/oksana-fs/fatfuse/internal/fat"
)

// LogPath is the absolute path of the activity log within the mounted
// volume, matching the original's LOG_FILE_BASENAME/LOG_FILE_EXTENSION.
const LogPath = "/fs.log"

const dateLayout = "02-01-2006 15:04"

// censoredWords is the fixed set of forbidden substrings scanned for
// on every read/write buffer, carried over verbatim from
// big_brother.c's censored_words[].
var censoredWords = []string{"Oldspeak", "English", "revolution", "Emmanuel", "Goldstein"}

// Log wraps the log file's cached File and the acting user name, and
// writes activity lines directly through C4 (fat.File), never through
// the operation dispatcher — this is the non-recursion invariant from
// spec.md §2 ("without re-entering itself").
type Log struct {
	file        *fat.File
	currentUser string
}

// IsLogPath reports whether path names the activity log.
func IsLogPath(path string) bool { return path == LogPath }

// New wraps an already-resolved log File.
func New(file *fat.File) *Log {
	return &Log{file: file, currentUser: currentUser()}
}

// currentUser resolves the acting user the way the original's
// getlogin() did, falling back through the environment when no
// controlling terminal/session is available (e.g. under a container
// or service manager), per SPEC_FULL.md's supplemented-features note.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	if v := os.Getenv("LOGNAME"); v != "" {
		return v
	}
	return "unknown"
}

// CensoredWordsFound scans buf for any of the fixed censored words,
// case-insensitively, returning the ones found in declaration order.
func CensoredWordsFound(buf []byte) []string {
	haystack := string(buf)
	var found []string
	for _, w := range censoredWords {
		if strings.Contains(strings.ToLower(haystack), strings.ToLower(w)) {
			found = append(found, w)
		}
	}
	return found
}

// formatLine builds one log line per spec.md §4.7's fixed template:
//
//	DD-MM-YYYY HH:MM\tUSER\tPATH\tOP\t[W1, W2, ...]\t\n
//
// the bracket group is omitted (empty string) when no censored word
// matched, but the surrounding tab delimiters are always present so
// every line has the same column count, extending fat_fuse_log_creat_string's
// date/user/path/text layout with the word-scan column the distilled
// spec adds.
func formatLine(when time.Time, user, path, op string, words []string) string {
	bracket := ""
	if len(words) > 0 {
		bracket = "[" + strings.Join(words, ", ") + "]"
	}
	return when.Format(dateLayout) + "\t" + user + "\t" + path + "\t" + op + "\t" + bracket + "\t\n"
}

// Record appends one activity line for an operation (e.g. "read",
// "write") against targetPath, writing through C4 at the log file's
// current end-of-file. words is the set of censored words found in
// the transferred buffer, in configured order, per spec.md §4.7.
func (l *Log) Record(op string, targetPath string, words []string) error {
	line := formatLine(time.Now(), l.currentUser, targetPath, op, words)
	_, err := l.file.Pwrite(uint64(l.file.Size()), []byte(line))
	return err
}

// EnsureCreated creates the activity log as a zero-length regular file
// in root, already hidden (attributes include Hidden+System from the
// moment the dentry is written) — this resolves the spec's Open
// Question in favor of hiding at creation time rather than leaving a
// window where the log is visible (see SPEC_FULL.md "RESOLVED
// DETAILS"). It does not check whether the log already exists: every
// call inserts a new entry, so the caller checks first. The caller is
// also responsible for inserting the new file into the directory tree
// cache (C5), which activitylog does not have access to.
func EnsureCreated(root *fat.File) (*fat.Dentry, error) {
	existing, err := root.ShortNames()
	if err != nil {
		return nil, err
	}
	attr := uint8(fat.AttrArchive | fat.AttrHidden | fat.AttrSystem)
	return root.InsertChild("fs.log", attr, 0, 0, existing)
}
