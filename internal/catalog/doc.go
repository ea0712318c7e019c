// Package catalog загружает описания ensemble из YAML/JSON файлов
// и хранит их в памяти.
//
// Catalog используется HTTP-адаптером, Service очереди и планировщиком
// как источник описаний по имени. Layered объединяет файловый каталог
// с описаниями, сохранёнными в БД (repo.EnsembleRepo).
package catalog
