package blob

// Category names for allowed attachment media types.
const (
	CategoryImages    = "images"
	CategoryVideos    = "videos"
	CategoryDocuments = "documents"
	CategoryAudio     = "audio"
)

var allowedMediaTypes = map[string]string{
	"image/jpeg": CategoryImages,
	"image/jpg":  CategoryImages,
	"image/png":  CategoryImages,
	"image/gif":  CategoryImages,
	"image/webp": CategoryImages,

	"video/mp4":       CategoryVideos,
	"video/webm":      CategoryVideos,
	"video/ogg":       CategoryVideos,
	"video/quicktime": CategoryVideos,

	"application/pdf":    CategoryDocuments,
	"application/msword": CategoryDocuments,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   CategoryDocuments,
	"application/vnd.ms-excel": CategoryDocuments,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         CategoryDocuments,
	"application/vnd.ms-powerpoint": CategoryDocuments,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": CategoryDocuments,
	"text/plain": CategoryDocuments,

	"audio/mpeg": CategoryAudio,
	"audio/wav":  CategoryAudio,
	"audio/ogg":  CategoryAudio,
	"audio/webm": CategoryAudio,
}

// CategoryFor maps a media type to its category and reports whether the
// media type is allowed for upload.
func CategoryFor(mediaType string) (string, bool) {
	category, ok := allowedMediaTypes[mediaType]
	return category, ok
}
