// Package markdown exports journal days to markdown files and imports them
// back.
//
// Each day lives at {baseDir}/{yyyy}/{mm}/{dd}.md:
//
//	# Tuesday, January 2, 2024
//	## Tag1
//	- Tag1 Entry1
//	- Tag1 Entry2
//	## Tag2
//	- Tag2 Entry1
//
// Markdown has no timestamps, so imported entries get synthetic times one
// second apart starting at local midnight of the day.
package markdown

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// HeaderLayout formats the first line of a day file.
const HeaderLayout = "Monday, January 2, 2006"

// DayPath returns the file holding day under baseDir.
func DayPath(baseDir string, day time.Time) string {
	return filepath.Join(baseDir,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d.md", day.Day()))
}

// DayFromPath reverses DayPath. It reports false for any path that is not a
// day file under baseDir.
func DayFromPath(baseDir, path string) (string, bool) {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".md") {
		return "", false
	}

	year, errY := strconv.Atoi(parts[0])
	month, errM := strconv.Atoi(parts[1])
	day, errD := strconv.Atoi(strings.TrimSuffix(parts[2], ".md"))
	if errY != nil || errM != nil || errD != nil || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return "", false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return t.Format(model.DateLayout), true
}
