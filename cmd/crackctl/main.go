package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cracknum-backend/pkg/api"
	"cracknum-backend/pkg/client"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagTokenFile string
	flagInterval  time.Duration
)

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".crackctl-token"
	}
	return filepath.Join(dir, "crackctl", "token")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("CRACKCTL_SERVER", "http://localhost:8000"), "backend base url")
	rootCmd.PersistentFlags().StringVar(&flagTokenFile, "token-file", defaultTokenFile(), "where the access token is stored by login")
	rootCmd.PersistentFlags().DurationVar(&flagInterval, "interval", time.Second, "poll interval for watch and follow")

	loginCmd.Flags().String("user", envOr("CRACKCTL_USER", "admin"), "user name")
	loginCmd.Flags().String("password", os.Getenv("CRACKCTL_PASSWORD"), "password")

	crackCmd.Flags().String("salt", "", "salt appended to every hash")
	crackCmd.Flags().Bool("watch", false, "follow progress until the task finishes")
	_ = crackCmd.MarkFlagRequired("salt")

	logsCmd.Flags().Int("cursor", 0, "first line to print")
	logsCmd.Flags().BoolP("follow", "f", false, "keep printing new lines until the task finishes")

	downloadCmd.Flags().StringP("output", "o", "", "output file, default <task_id>.csv")

	runCmd.Flags().String("salt", "", "salt appended to every hash")
	runCmd.Flags().StringP("output", "o", "", "output file, default <task_id>.csv")
	_ = runCmd.MarkFlagRequired("salt")

	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(loginCmd, uploadCmd, crackCmd, statusCmd, logsCmd, watchCmd, downloadCmd, runCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("crackctl failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "crackctl",
	Short:        "Command line client for the cracking backend",
	SilenceUsage: true,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "log in and store the access token",
	Args:  cobra.NoArgs,
	RunE:  doLogin,
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "upload a hash file and print its task id",
	Args:  cobra.ExactArgs(1),
	RunE:  doUpload,
}

var crackCmd = &cobra.Command{
	Use:   "crack TASK_ID",
	Short: "queue a crack job for an uploaded hash file",
	Args:  cobra.ExactArgs(1),
	RunE:  doCrack,
}

var statusCmd = &cobra.Command{
	Use:   "status TASK_ID",
	Short: "print the status of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  doStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs TASK_ID",
	Short: "print the log of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  doLogs,
}

var watchCmd = &cobra.Command{
	Use:   "watch TASK_ID",
	Short: "show a progress bar and the log until the task finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}
		_, err = watch(cmd.Context(), c, args[0])
		return err
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download TASK_ID",
	Short: "download the result csv of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  doDownload,
}

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "upload, crack, watch and download in one go",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

func authedClient() (*client.Client, error) {
	c := client.New(flagServer)

	token := os.Getenv("CRACKCTL_TOKEN")
	if token == "" {
		data, err := os.ReadFile(flagTokenFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("not logged in, run 'crackctl login' first")
			}
			return nil, fmt.Errorf("reading token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}

	c.SetToken(token)
	return c, nil
}

func doLogin(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		return fmt.Errorf("password is required, use --password or CRACKCTL_PASSWORD")
	}

	token, err := client.New(flagServer).Login(cmd.Context(), user, password)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(flagTokenFile), 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(flagTokenFile), err)
	}
	if err := os.WriteFile(flagTokenFile, []byte(token.AccessToken), 0600); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}

	fmt.Printf("logged in as %s, token valid for %s\n", user, time.Duration(token.ExpiresIn)*time.Second)
	return nil
}

func doUpload(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	taskId, err := c.Upload(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(taskId)
	return nil
}

func doCrack(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	salt, _ := cmd.Flags().GetString("salt")
	if err := c.Crack(cmd.Context(), args[0], salt); err != nil {
		return err
	}
	fmt.Printf("queued %s\n", args[0])

	if follow, _ := cmd.Flags().GetBool("watch"); follow {
		_, err = watch(cmd.Context(), c, args[0])
	}
	return err
}

func printStatus(status api.TaskStatus) {
	fmt.Printf("task:     %s\n", status.TaskId)
	fmt.Printf("status:   %s\n", status.Status)
	fmt.Printf("progress: %.2f%%\n", status.Progress)
	fmt.Printf("cracked:  %d of %d\n", status.Cracked, status.Total)
	if status.Message != nil {
		fmt.Printf("message:  %s\n", *status.Message)
	}
}

func doStatus(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	status, err := c.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func doLogs(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		_, err := c.Watch(cmd.Context(), args[0], flagInterval, printLines, nil)
		return err
	}

	cursor, _ := cmd.Flags().GetInt("cursor")
	chunk, err := c.Logs(cmd.Context(), args[0], cursor)
	if err != nil {
		return err
	}
	printLines(chunk.Lines)
	return nil
}

func printLines(lines []string) {
	for _, line := range lines {
		fmt.Println(line)
	}
}

// watch renders a progress bar that log lines are printed above.
func watch(ctx context.Context, c *client.Client, taskId string) (api.TaskStatus, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("⏳ "+taskId),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	status, err := c.Watch(ctx, taskId, flagInterval,
		func(lines []string) {
			_ = bar.Clear()
			printLines(lines)
		},
		func(s api.TaskStatus) {
			bar.Describe(fmt.Sprintf("⏳ %s %s (%d/%d)", taskId, s.Status, s.Cracked, s.Total))
			_ = bar.Set(int(s.Progress))
		},
	)
	_ = bar.Finish()
	if err != nil {
		return status, err
	}

	fmt.Println()
	printStatus(status)
	if status.Status == "failed" {
		return status, fmt.Errorf("task %s failed", taskId)
	}
	return status, nil
}

func outputPath(cmd *cobra.Command, taskId string) string {
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		return out
	}
	return taskId + ".csv"
}

func doDownload(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	path := outputPath(cmd, args[0])
	n, err := c.DownloadFile(cmd.Context(), args[0], path)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", n, path)
	return nil
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := authedClient()
	if err != nil {
		return err
	}

	taskId, err := c.Upload(ctx, args[0])
	if err != nil {
		return err
	}

	salt, _ := cmd.Flags().GetString("salt")
	if err := c.Crack(ctx, taskId, salt); err != nil {
		return err
	}

	if _, err := watch(ctx, c, taskId); err != nil {
		return err
	}

	path := outputPath(cmd, taskId)
	n, err := c.DownloadFile(ctx, taskId, path)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", n, path)
	return nil
}
