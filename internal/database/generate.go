package database

// To regenerate the reference SQLite DDL dump:
//   go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
