package main

import (
	"bufio"
	"database/sql"
	"fmt"
	"strings"

	"courier-console-api/internal/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	passwordEmail string
	passwordValue string
)

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Set a console user's password",
	Long: `Sets the password of the user with the given email. Seeded accounts
cannot log in until this has been run. Without --password the password is
read from the first line of stdin.`,
	RunE: runSetPassword,
}

func init() {
	setPasswordCmd.Flags().StringVar(&passwordEmail, "email", "", "User email")
	setPasswordCmd.Flags().StringVar(&passwordValue, "password", "", "New password")
	_ = setPasswordCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(setPasswordCmd)
}

func readPassword(cmd *cobra.Command) (string, error) {
	if passwordValue != "" {
		return passwordValue, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runSetPassword(cmd *cobra.Command, _ []string) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	if len(password) < models.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", models.MinPasswordLength)
	}
	if err := requireDSN(); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	email := strings.ToLower(strings.TrimSpace(passwordEmail))
	res, err := db.ExecContext(cmd.Context(),
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE email = $2`, string(hash), email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no user with email %s", email)
	}
	logger.Info("password updated", zap.String("email", email))
	return nil
}
