package pipeline

import "strings"

// skipExtensions holds file extensions never treated as candidate files:
// images, archives, office documents, media, binaries, fonts, and
// lock/log/tmp/cache files.
var skipExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".svg": true, ".webp": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true, ".7z": true, ".rar": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true, ".pdf": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true, ".flac": true, ".mkv": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true, ".o": true, ".a": true, ".class": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	".lock": true, ".log": true, ".tmp": true, ".cache": true,
}

var languageByExtension = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript", ".tsx": "typescript", ".jsx": "javascript",
	".java": "java", ".rb": "ruby", ".rs": "rust", ".c": "c", ".h": "c", ".cpp": "cpp", ".hpp": "cpp",
	".cs": "csharp", ".php": "php", ".swift": "swift", ".kt": "kotlin", ".scala": "scala",
	".md": "markdown", ".yaml": "yaml", ".yml": "yaml", ".json": "json", ".sh": "shell", ".sql": "sql",
}

func isCandidateFile(path string) bool {
	ext := extensionOf(path)
	if ext == "" {
		return true
	}
	return !skipExtensions[ext]
}

func languageOf(path string) string {
	ext := extensionOf(path)
	if lang, ok := languageByExtension[ext]; ok {
		return lang
	}
	return "text"
}

func extensionOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	slash := strings.LastIndexByte(path, '/')
	if slash > idx {
		return ""
	}
	return strings.ToLower(path[idx:])
}

func countCodeLines(content string) int {
	if content == "" {
		return 0
	}
	lines := strings.Split(content, "\n")
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}
