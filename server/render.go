package server

import (
	"regexp"
)

// ImagePlaceholder is what remote image sources are swapped for before
// message contents leave the server.
const ImagePlaceholder = "/assets/image-placeholder.png"

var imgSrcPattern = regexp.MustCompile(`(?i)(<img\b[^>]*?\bsrc\s*=\s*)(["'])(.*?)(["'])`)

// RewriteImages replaces every image source in the HTML contents with the
// placeholder and returns the original sources in document order, so a
// client can decide per image whether to load it.
func RewriteImages(contents string) (string, []string) {
	images := []string{}
	rewritten := imgSrcPattern.ReplaceAllStringFunc(contents, func(tag string) string {
		groups := imgSrcPattern.FindStringSubmatch(tag)
		if len(groups) != 5 {
			return tag
		}
		if groups[3] != "" {
			images = append(images, groups[3])
		}
		return groups[1] + groups[2] + ImagePlaceholder + groups[4]
	})
	return rewritten, images
}
