package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/technosupport/ts-alarms/internal/crypto"
)

var sealCmd = &cobra.Command{
	Use:   "seal <camera-id>",
	Short: "Encrypt a camera password for the config file.",
	Long: `Reads the password from stdin and prints an enc:v1 value for the camera's
password field. The value is bound to the camera id and sealed with the active
key from ALARMD_MASTER_KEYS / ALARMD_ACTIVE_KID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kr := crypto.NewKeyring()
		if err := kr.LoadFromEnv(); err != nil {
			return err
		}

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			return errors.New("empty password")
		}

		sealed, err := kr.Seal(password, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}
