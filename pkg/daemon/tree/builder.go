package tree

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// SortOrder selects how siblings are ordered.
type SortOrder int

const (
	// SortByName puts directories first, then orders by name.
	SortByName SortOrder = iota
	// SortBySize orders by size descending (TotalSize for directories).
	SortBySize
)

// Options controls Build.
type Options struct {
	// Sort is the sibling order.
	Sort SortOrder

	// MaxDepth limits how many levels below the start are kept (0 = all).
	MaxDepth int
}

// Build constructs the tree rooted at startRel ("" for the index root)
// from flat index entries. root is the absolute index root. Directories
// missing from entries are synthesized so every entry has a parent.
// Aggregates are computed before MaxDepth prunes the tree.
func Build(root, startRel string, entries []types.IndexEntry, opts Options) *Node {
	root = filepath.Clean(root)
	startRel = types.NormalizeRelPath(startRel)

	rootNode := &Node{
		Path:    filepath.Join(root, filepath.FromSlash(startRel)),
		RelPath: startRel,
		Name:    filepath.Base(root),
		IsDir:   true,
	}
	if startRel != "" {
		rootNode.Name = startRel[strings.LastIndexByte(startRel, '/')+1:]
	}

	// Map of relative path -> node for quick lookup
	nodes := make(map[string]*Node)
	nodes[startRel] = rootNode

	// Parents before children so directory entries are placed before
	// anything underneath them is synthesized.
	sorted := make([]types.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if e.RelPath == startRel && e.IsDir {
			rootNode.ModTime = e.ModTime
			continue
		}
		if startRel == "" || types.IsUnder(e.RelPath, startRel) {
			sorted = append(sorted, e)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	for _, e := range sorted {
		if existing, ok := nodes[e.RelPath]; ok {
			// A synthesized directory gets its real metadata.
			existing.Path = e.Path
			existing.ModTime = e.ModTime
			continue
		}
		parent := ensureAncestors(root, startRel, types.ParentRelPath(e.RelPath), nodes)
		node := &Node{
			Path:    e.Path,
			RelPath: e.RelPath,
			Name:    e.Name,
			IsDir:   e.IsDir,
			ModTime: e.ModTime,
		}
		if !e.IsDir {
			node.Size = e.Size
			node.FileType = DetectFileType(e.Name)
		}
		parent.AddChild(node)
		nodes[e.RelPath] = node
	}

	// Aggregate sizes up the tree
	aggregateSizes(rootNode)

	// Sort children
	sortChildren(rootNode, opts.Sort)

	if opts.MaxDepth > 0 {
		prune(rootNode, opts.MaxDepth)
	}

	return rootNode
}

// ensureAncestors returns the node for dirRel, creating it and any missing
// directory between it and the start node.
func ensureAncestors(root, startRel, dirRel string, nodes map[string]*Node) *Node {
	if node, ok := nodes[dirRel]; ok {
		return node
	}
	if dirRel == "" || dirRel == startRel {
		return nodes[startRel]
	}

	parent := ensureAncestors(root, startRel, types.ParentRelPath(dirRel), nodes)
	dirNode := &Node{
		Path:    filepath.Join(root, filepath.FromSlash(dirRel)),
		RelPath: dirRel,
		Name:    dirRel[strings.LastIndexByte(dirRel, '/')+1:],
		IsDir:   true,
	}
	parent.AddChild(dirNode)
	nodes[dirRel] = dirNode
	return dirNode
}

// aggregateSizes calculates TotalSize and FileCount for all directories.
func aggregateSizes(node *Node) (totalSize int64, totalCount int) {
	if !node.IsDir {
		return node.Size, 1
	}

	for _, child := range node.Children {
		size, count := aggregateSizes(child)
		totalSize += size
		totalCount += count
	}

	node.TotalSize = totalSize
	node.FileCount = totalCount

	return totalSize, totalCount
}

// sortChildren sorts all children recursively.
func sortChildren(node *Node, order SortOrder) {
	if !node.IsDir || len(node.Children) == 0 {
		return
	}

	sort.Slice(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]

		if order == SortBySize {
			// Get comparable size (TotalSize for dirs, Size for files)
			aSize, bSize := a.Size, b.Size
			if a.IsDir {
				aSize = a.TotalSize
			}
			if b.IsDir {
				bSize = b.TotalSize
			}
			if aSize != bSize {
				return aSize > bSize
			}
		}

		// Directories before files
		if a.IsDir != b.IsDir {
			return a.IsDir
		}

		// Alphabetical as tiebreaker
		return a.Name < b.Name
	})

	for _, child := range node.Children {
		sortChildren(child, order)
	}
}

// prune drops children deeper than maxDepth below node.
func prune(node *Node, maxDepth int) {
	if maxDepth <= 0 {
		node.Children = nil
		return
	}
	for _, child := range node.Children {
		prune(child, maxDepth-1)
	}
}

// fileTypeMap maps file extensions to human-readable type names.
var fileTypeMap = map[string]string{
	// Programming languages
	".go":   "Go",
	".py":   "Python",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".rs":   "Rust",
	".c":    "C",
	".cpp":  "C++",
	".cc":   "C++",
	".cxx":  "C++",
	".java": "Java",
	".rb":   "Ruby",
	".sh":   "Shell",
	".bash": "Shell",
	".zsh":  "Shell",

	// Web
	".html":   "HTML",
	".htm":    "HTML",
	".css":    "CSS",
	".jsx":    "JSX",
	".tsx":    "TSX",
	".vue":    "Vue",
	".svelte": "Svelte",

	// Data/Config
	".json": "JSON",
	".yaml": "YAML",
	".yml":  "YAML",
	".toml": "TOML",
	".xml":  "XML",
	".csv":  "CSV",

	// Documentation
	".md":       "Markdown",
	".markdown": "Markdown",
	".mdx":      "MDX",
	".rst":      "reStructuredText",
	".adoc":     "AsciiDoc",
	".org":      "Org",
	".txt":      "Text",
	".pdf":      "PDF",

	// Office
	".docx": "Word",
	".doc":  "Word",
	".xlsx": "Spreadsheet",
	".xls":  "Spreadsheet",
	".ods":  "Spreadsheet",
	".pptx": "Presentation",
	".ppt":  "Presentation",
	".odt":  "Document",

	// Images
	".png":  "Image",
	".jpg":  "Image",
	".jpeg": "Image",
	".gif":  "Image",
	".svg":  "Image",
	".webp": "Image",
	".bmp":  "Image",
	".ico":  "Image",

	// Video
	".mp4":  "Video",
	".mov":  "Video",
	".avi":  "Video",
	".mkv":  "Video",
	".webm": "Video",

	// Audio
	".mp3":  "Audio",
	".wav":  "Audio",
	".ogg":  "Audio",
	".flac": "Audio",
	".aac":  "Audio",

	// Archives
	".zip": "Archive",
	".tar": "Archive",
	".gz":  "Archive",
	".rar": "Archive",
	".7z":  "Archive",
	".bz2": "Archive",
	".xz":  "Archive",

	// Executables and libraries
	".exe":   "Executable",
	".dll":   "Library",
	".so":    "Library",
	".dylib": "Library",
	".a":     "Library",
	".wasm":  "WebAssembly",

	// Database
	".db":      "Database",
	".sqlite":  "Database",
	".sqlite3": "Database",
}

// DetectFileType returns a human-readable file type based on the file extension.
func DetectFileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if fileType, ok := fileTypeMap[ext]; ok {
		return fileType
	}
	return "File"
}
