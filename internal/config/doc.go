// Package config загружает конфигурацию процессов (viper),
// применяет значения по умолчанию (creasty/defaults) и проверяет её
// (validator). Также строит namespace env для runs из переменных
// окружения с префиксом и .env файла (godotenv).
package config
