package version

// Version is overridden at build time with -ldflags "-X EnigmaNetz/Enigma-Go-DVR/internal/version.Version=..."
var Version = "dev"
