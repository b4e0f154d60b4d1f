package config

import (
    "log"
    "os"

    "gopkg.in/yaml.v2"
)

type Config struct {
    Server struct {
        Port string `yaml:"port"`
    } `yaml:"server"`
    MySQL struct {
        DSN string `yaml:"dsn"`
    } `yaml:"mysql"`

    Redis struct {
        Addr     string `yaml:"addr"`
        Password string `yaml:"password"`
    } `yaml:"redis"`
    MinIO struct {
        Endpoint  string `yaml:"endpoint"`
        AccessKey string `yaml:"access_key"`
        SecretKey string `yaml:"secret_key"`
        Bucket    string `yaml:"bucket"`
        UseSSL    bool   `yaml:"use_ssl"`
        Domain    string `yaml:"domain"`
    } `yaml:"minio"`

    // 外部 AI 服务
    OpenAI struct {
        APIKey  string `yaml:"api_key"`
        BaseURL string `yaml:"base_url"`
        Model   string `yaml:"model"`
    } `yaml:"openai"`
    ElevenLabs struct {
        APIKey  string `yaml:"api_key"`
        BaseURL string `yaml:"base_url"`
    } `yaml:"elevenlabs"`
    HeyGen struct {
        APIKey        string `yaml:"api_key"`
        BaseURL       string `yaml:"base_url"`
        UploadBaseURL string `yaml:"upload_base_url"`
        MotionType    string `yaml:"motion_type"`
    } `yaml:"heygen"`
    // 合成 worker（ffmpeg 渲染服务）
    Worker struct {
        Addr string `yaml:"addr"`
    } `yaml:"worker"`

    Pipeline struct {
        PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
        PollTimeoutMinutes  int     `yaml:"poll_timeout_minutes"`
        WindowSeconds       float64 `yaml:"window_seconds"`
    } `yaml:"pipeline"`
}

var AppConfig *Config

func InitConfig() {
    f, err := os.Open("config/config.yaml")
    if err != nil {
        log.Fatalf("配置文件读取失败: %v", err)
    }
    defer f.Close()
    decoder := yaml.NewDecoder(f)
    AppConfig = &Config{}
    if err := decoder.Decode(AppConfig); err != nil {
        log.Fatalf("配置文件解析失败: %v", err)
    }
}
