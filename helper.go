package orm

import (
	"context"
	"strings"
)

// Convert the .sql file into each individual sql commands
// Input is []string which are the content of the .sql file
// Output is []string of each sql commands.
func ConvertSQLCommands(lines []string) []string {
	var commands []string
	var currentCommand strings.Builder

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		commentIndex := strings.Index(line, "--")
		if commentIndex != -1 {
			line = line[:commentIndex] // Remove comment part
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		currentCommand.WriteString(line)
		currentCommand.WriteString(" ")

		if strings.Contains(line, ";") {
			parts := strings.Split(currentCommand.String(), ";")
			for _, part := range parts[:len(parts)-1] { // Process parts before the last one
				command := strings.TrimSpace(part)
				if command != "" {
					commands = append(commands, command)
				}
			}
			currentCommand.Reset()
			lastPart := parts[len(parts)-1]
			currentCommand.WriteString(lastPart)
		}
	}

	if currentCommand.Len() > 0 {
		command := strings.TrimSpace(currentCommand.String())
		if command != "" {
			commands = append(commands, command)
		}
	}

	return commands
}

// ExecScript runs every command of a .sql script, in order, and returns the
// total rows affected. It stops at the first failure.
func ExecScript(ctx context.Context, db Database, script string) (int64, error) {
	var total int64
	for _, cmd := range ConvertSQLCommands(strings.Split(script, "\n")) {
		n, err := db.ExecuteNonQuery(ctx, cmd)
		if err != nil {
			return total, WrapErrorWithQuery(err, "SCRIPT", "", cmd)
		}
		total += n
	}
	return total, nil
}

// ExecStatements runs prepared statements in order, binding their named
// values through the database, and returns the total rows affected. It stops
// at the first failure; the error context carries the failing statement and
// its 1-based position.
func ExecStatements(ctx context.Context, db Database, stmts []ParametereizedSQL) (int64, error) {
	var total int64
	for i, stmt := range stmts {
		params := make([]Parameter, 0, len(stmt.Values))
		for _, p := range stmt.Parameters() {
			params = append(params, db.CreateParameter(p.Name, p.Value))
		}
		n, err := db.ExecuteNonQuery(ctx, stmt.Query, params...)
		if err != nil {
			return total, &ORMError{Err: err, Context: ErrorContext{
				Operation: "EXEC",
				Query:     stmt.Query,
				Fields:    map[string]interface{}{"statement": i + 1},
			}}
		}
		total += n
	}
	return total, nil
}
