package config

import (
	"os"
	"strings"
)

type Config struct {
	Backend             string // "firestore", "mongo", or "memory"
	FirestoreProjectID  string
	GoogleCredentials   string // path to a service account JSON file
	MongoURI            string
	MongoDatabase       string
	RedisURI            string
	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	Environment         string // ENV: production, development, etc.
	DevUserID           string // fixed session user for local development
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	return &Config{
		Backend:             strings.ToLower(getEnv("TRIPTUNER_BACKEND", "memory")),
		FirestoreProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
		GoogleCredentials:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		MongoURI:            getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/triptuner")),
		MongoDatabase:       getEnv("MONGO_DATABASE", "triptuner"),
		RedisURI:            getEnv("REDIS_URI", "redis://localhost:6379/0"),
		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		Environment:         env,
		DevUserID:           getEnv("TRIPTUNER_DEV_USER", ""),
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
