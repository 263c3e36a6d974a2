package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Print a new shell session id",
	Long: `Print a new shell session id. Shell hooks call this once per shell and
export the result so commands from one shell are grouped together.

Examples:
  export CMDINTEL_SESSION_ID="$(cmdintel session)"`,
	GroupID: groupSetup,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(newSessionID())
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}

func newSessionID() string {
	return uuid.NewString()
}
