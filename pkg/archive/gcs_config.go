package archive

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}
