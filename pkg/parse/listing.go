package parse

import (
	"path"
	"sort"
	"strings"

	"github.com/pershinghar/go-termux-relay/pkg/models"
)

// MaxListingEntries bounds a listing; the remote command pipes through
// `head -100` and the parser enforces the same cap.
const MaxListingEntries = 100

var typesByExtension = map[string]models.FileType{
	".jpg": models.FileTypeImage, ".jpeg": models.FileTypeImage, ".png": models.FileTypeImage,
	".gif": models.FileTypeImage, ".bmp": models.FileTypeImage, ".webp": models.FileTypeImage,

	".mp4": models.FileTypeVideo, ".avi": models.FileTypeVideo, ".mov": models.FileTypeVideo,
	".mkv": models.FileTypeVideo, ".webm": models.FileTypeVideo,

	".mp3": models.FileTypeAudio, ".wav": models.FileTypeAudio, ".ogg": models.FileTypeAudio,
	".m4a": models.FileTypeAudio, ".aac": models.FileTypeAudio,

	".txt": models.FileTypeText, ".log": models.FileTypeText, ".md": models.FileTypeText,
	".json": models.FileTypeText, ".xml": models.FileTypeText,

	".pdf": models.FileTypePDF,
}

// FileTypeOf infers the file category from the (case-insensitive) extension.
func FileTypeOf(name string) models.FileType {
	if t, ok := typesByExtension[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return models.FileTypeFile
}

// ParseListing parses `ls -l` style lines into file entries under folder.
//
// A line counts only if it splits into at least nine whitespace-separated
// fields: permissions, links, owner, group, size, three date fields and the
// name (which may itself contain spaces). Shorter lines such as "total 12"
// are skipped. Entries are sorted by their date string in reverse
// lexicographic order, which is not chronological across months.
func ParseListing(output, folder string) []models.FileEntry {
	var entries []models.FileEntry
	for _, line := range strings.Split(output, "\n") {
		if len(entries) == MaxListingEntries {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}

		// Re-joining from the raw line keeps runs of spaces inside names.
		name := nameFromLine(line, fields)
		base := path.Base(name)
		ext := strings.ToLower(path.Ext(base))

		entries = append(entries, models.FileEntry{
			Name:        base,
			FullPath:    path.Join(folder, base),
			Size:        fields[4],
			Date:        strings.Join(fields[5:8], " "),
			Permissions: fields[0],
			Type:        FileTypeOf(base),
			Extension:   ext,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
	return entries
}

// nameFromLine returns everything from the ninth field to the end of line.
func nameFromLine(line string, fields []string) string {
	rest := strings.TrimLeft(line, " \t")
	for i := 0; i < 8; i++ {
		rest = strings.TrimPrefix(rest, fields[i])
		rest = strings.TrimLeft(rest, " \t")
	}
	rest = strings.TrimRight(rest, " \t\r")
	if rest == "" {
		return strings.Join(fields[8:], " ")
	}
	return rest
}
