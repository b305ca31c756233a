package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robertheadley/playwright-userscript-manager/internal/storage"
)

// storageCmd inspects and edits the persistent value store
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and edit the persistent value store",
}

var storageGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print the stored value for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  storageGet,
}

var storageSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a value under a key",
	Long: `Stores a value. The value is parsed as JSON when possible, otherwise
it is stored as a plain string.`,
	Args: cobra.ExactArgs(2),
	RunE: storageSet,
}

var storageDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete a stored key",
	Args:  cobra.ExactArgs(1),
	RunE:  storageDelete,
}

var storageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored keys",
	Args:  cobra.NoArgs,
	RunE:  storageList,
}

func init() {
	storageCmd.AddCommand(storageGetCmd)
	storageCmd.AddCommand(storageSetCmd)
	storageCmd.AddCommand(storageDeleteCmd)
	storageCmd.AddCommand(storageListCmd)
	rootCmd.AddCommand(storageCmd)
}

func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.Path, logger), nil
}

func storageGet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	value, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("key not found: %s", args[0])
	}
	fmt.Println(string(value))
	return nil
}

func storageSet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	key, raw := args[0], args[1]
	value := json.RawMessage(raw)
	if !json.Valid(value) {
		// Not JSON; store it as a string
		value, _ = json.Marshal(raw)
	}

	store.Set(key, value)
	return store.Flush()
}

func storageDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	store.Delete(args[0])
	return store.Flush()
}

func storageList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	keys := store.List()
	if len(keys) == 0 {
		fmt.Println("No stored values")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
