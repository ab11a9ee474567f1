package testcase

import (
	"fmt"
	"regexp"
	"strconv"
)

// filenameRe matches the AFL-style filenames used on disk:
// id:<6-digit>[,src:<6-digit>].<ext>
var filenameRe = regexp.MustCompile(`^id:(\d{6})(?:,src:(\d{6}))?\.(\w+)$`)

// Filename generates the on-disk filename for a test case, in
// "id:NNNNNN[,src:NNNNNN].<ext>" format.
func Filename(t *TestCase, ext string) string {
	if t.SrcID != nil {
		return fmt.Sprintf("id:%06d,src:%06d.%s", t.ID, *t.SrcID, ext)
	}
	return fmt.Sprintf("id:%06d.%s", t.ID, ext)
}

// ParseFilename extracts the id, optional src id and extension from a
// corpus filename.
func ParseFilename(name string) (id uint64, srcID *uint64, ext string, err error) {
	m := filenameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, nil, "", fmt.Errorf("testcase: filename %q does not match id:NNNNNN[,src:NNNNNN].ext", name)
	}
	id, err = strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, nil, "", fmt.Errorf("testcase: parsing id in %q: %w", name, err)
	}
	if m[2] != "" {
		s, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return 0, nil, "", fmt.Errorf("testcase: parsing src id in %q: %w", name, err)
		}
		srcID = &s
	}
	return id, srcID, m[3], nil
}
