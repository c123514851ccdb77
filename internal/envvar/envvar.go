package envvar

const (
	// AudiogenEnv is the environment variable used to determine the environment
	AudiogenEnv = "AUDIOGEN_ENV"

	// AudiogenServerHost is the environment variable used to determine the HTTP host
	AudiogenServerHost = "AUDIOGEN_HOST"

	// AudiogenServerHTTPPort is the environment variable used to determine the HTTP port
	AudiogenServerHTTPPort = "AUDIOGEN_HTTP_PORT"

	// AudiogenMusicModel overrides the music model identifier.
	AudiogenMusicModel = "AUDIOGEN_MUSIC_MODEL"

	// AudiogenSFXModel overrides the sound-effect model identifier.
	AudiogenSFXModel = "AUDIOGEN_SFX_MODEL"

	// AudiogenDevice overrides the compute device for every model (cpu, cuda, cuda:1, mps).
	AudiogenDevice = "AUDIOGEN_DEVICE"

	// AudiogenBackend overrides the inference backend for every model.
	AudiogenBackend = "AUDIOGEN_BACKEND"

	// AudiogenArtifactsDir overrides the directory generated files are written to.
	AudiogenArtifactsDir = "AUDIOGEN_ARTIFACTS_DIR"

	// AudiogenModelsPath overrides the directory prefetched model weights are stored in.
	AudiogenModelsPath = "AUDIOGEN_MODELS_PATH"

	// AudiogenLogFile enables file logging to the given path.
	AudiogenLogFile = "AUDIOGEN_LOG_FILE"
)
