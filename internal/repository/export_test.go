package repository

// SetupTestDB — запуск PostgreSQL контейнера для тестов пакета repository_test.
var SetupTestDB = setupTestDB
