package cliprender

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// commonCJKFontPaths are checked, in order, on systems that ship a CJK
// font under one of the usual distro locations.
var commonCJKFontPaths = []string{
	"/usr/share/fonts/truetype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/wqy/wqy-zenhei.ttc",
	"/System/Library/Fonts/PingFang.ttc",
	"C:\\Windows\\Fonts\\msyh.ttc",
}

var (
	fontOnce sync.Once
	fontPath string
)

// resolveFont finds a usable CJK-capable font, trying the configured font
// directory first, then bundled fonts in that directory, then common OS
// font locations. Resolved once per process and cached, mirroring the
// global-mutable-singleton treatment used for the job store and scene
// cache.
func resolveFont(fontDirectory string) string {
	fontOnce.Do(func() {
		if fontDirectory != "" {
			entries, err := os.ReadDir(fontDirectory)
			if err == nil {
				for _, e := range entries {
					if e.IsDir() {
						continue
					}
					ext := filepath.Ext(e.Name())
					if ext == ".ttf" || ext == ".ttc" || ext == ".otf" {
						fontPath = filepath.Join(fontDirectory, e.Name())
						return
					}
				}
			}
		}
		for _, p := range commonCJKFontPaths {
			if _, err := os.Stat(p); err == nil {
				fontPath = p
				return
			}
		}
		log.Warn().Msg("No CJK font found in configured directory or common OS locations; subtitles will render without an explicit font")
	})
	return fontPath
}
