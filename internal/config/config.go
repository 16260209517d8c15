package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr       string
	Port             string
	DatabasePath     string
	GinMode          string
	ImportTmpDir     string
	VendorAPIBaseURL string
	VendorAPIToken   string
	VendorAPIUser    string
	VendorAPIPass    string
	DriveFolderID    string
	Timezone         string
	UserAge          int
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "healthlog.db"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	importTmpDir := strings.TrimSpace(os.Getenv("IMPORT_TMP_DIR"))
	if importTmpDir == "" {
		importTmpDir = os.TempDir()
	}

	vendorAPIBaseURL := strings.TrimSpace(os.Getenv("VENDOR_API_BASE_URL"))

	timezone := strings.TrimSpace(os.Getenv("TIMEZONE"))
	if timezone == "" {
		timezone = "Local"
	}

	userAge := 0
	if raw := strings.TrimSpace(os.Getenv("USER_AGE")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			userAge = parsed
		}
	}

	return AppConfig{
		ListenAddr:       listenAddr,
		Port:             port,
		DatabasePath:     databasePath,
		GinMode:          ginMode,
		ImportTmpDir:     importTmpDir,
		VendorAPIBaseURL: vendorAPIBaseURL,
		VendorAPIToken:   strings.TrimSpace(os.Getenv("VENDOR_API_TOKEN")),
		VendorAPIUser:    strings.TrimSpace(os.Getenv("VENDOR_API_USER")),
		VendorAPIPass:    os.Getenv("VENDOR_API_PASS"),
		DriveFolderID:    strings.TrimSpace(os.Getenv("DRIVE_FOLDER_ID")),
		Timezone:         timezone,
		UserAge:          userAge,
	}
}
