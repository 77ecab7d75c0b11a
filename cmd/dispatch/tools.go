package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/tools"
)

type param = protocol.Property

func required(name, typ, description string) param {
	return param{Name: name, Type: typ, Description: description, Required: true}
}

func optional(name, typ, description string) param {
	return param{Name: name, Type: typ, Description: description}
}

// storyTool describes a Story Protocol operation. The handler only reports
// what it would submit; no chain client is wired in.
type storyTool struct {
	name        string
	description string
	params      []param
}

var storyTools = []storyTool{
	{"get_license_terms", "Get the license terms for a specific ID.", []param{
		required("license_terms_id", "integer", "The ID of the license terms"),
	}},
	{"get_license_minting_fee", "Get the minting fee for a license terms ID.", []param{
		required("license_terms_id", "integer", "The ID of the license terms"),
	}},
	{"get_license_revenue_share", "Get the commercial revenue share for a license terms ID.", []param{
		required("license_terms_id", "integer", "The ID of the license terms"),
	}},
	{"mint_license_tokens", "Mint license tokens for a given IP and license terms.", []param{
		required("licensor_ip_id", "string", "The ID of the licensor's intellectual property"),
		required("license_terms_id", "integer", "The ID of the license terms"),
		optional("receiver", "string", "The address of the receiver"),
		optional("amount", "integer", "The amount of license tokens to mint"),
		optional("max_minting_fee", "integer", "Maximum minting fee the user will pay"),
		optional("max_revenue_share", "integer", "Maximum revenue share percentage the user accepts"),
	}},
	{"raise_dispute", "Raise a dispute against an IP asset.", []param{
		required("target_ip_id", "string", "The IP ID to dispute"),
		required("dispute_evidence_hash", "string", "IPFS CID of the dispute evidence"),
		required("target_tag", "string", "The tag of the dispute, e.g. IMPROPER_REGISTRATION"),
		optional("data", "string", "Optional additional data"),
	}},
	{"get_erc20_token_balance", "Get the ERC20 token balance of an address.", []param{
		required("token_address", "string", "The ERC20 token contract address"),
		optional("account_address", "string", "The address to check; defaults to the user's wallet"),
	}},
	{"mint_test_erc20_tokens", "Mint test ERC20 tokens to an address.", []param{
		required("token_address", "string", "The ERC20 token contract address"),
		required("amount", "integer", "The amount of tokens to mint"),
		optional("recipient", "string", "The recipient address; defaults to the user's wallet"),
	}},
	{"mint_and_register_ip_with_terms", "Mint an NFT, register it as an IP asset, and attach PIL terms.", []param{
		required("commercial_rev_share", "integer", "Percentage of revenue share (0-100)"),
		required("derivatives_allowed", "boolean", "Whether derivatives are allowed"),
		optional("registration_metadata", "object", "IP and NFT metadata URIs and hashes"),
		optional("recipient", "string", "The recipient of the NFT"),
		optional("spg_nft_contract", "string", "The SPG NFT contract to mint from"),
	}},
	{"register", "Register an existing NFT as an IP asset.", []param{
		required("nft_contract", "string", "The address of the NFT contract"),
		required("token_id", "integer", "The token identifier of the NFT"),
		optional("ip_metadata", "object", "Optional metadata for the IP"),
	}},
	{"upload_image_to_ipfs", "Upload an image to IPFS and return its URI.", []param{
		required("image_data", "string", "Image URL or base64-encoded image"),
	}},
	{"create_ip_metadata", "Create and upload IP and NFT metadata to IPFS.", []param{
		required("image_uri", "string", "The IPFS URI of the image"),
		required("name", "string", "The name of the asset"),
		required("description", "string", "A description of the asset"),
		optional("attributes", "string", "Optional NFT attributes as key=value pairs"),
	}},
	{"attach_license_terms", "Attach license terms to an IP asset.", []param{
		required("ip_id", "string", "The IP to attach the terms to"),
		required("license_terms_id", "integer", "The ID of the license terms"),
		optional("license_template", "string", "The license template address"),
	}},
	{"get_spg_nft_contract_minting_fee_and_token", "Get the minting fee and fee token of an SPG NFT contract.", []param{
		required("spg_nft_contract", "string", "The SPG NFT contract address"),
	}},
	{"create_spg_nft_collection", "Create a new SPG NFT collection.", []param{
		required("name", "string", "The name of the collection"),
		required("symbol", "string", "The symbol of the collection"),
		optional("is_public_minting", "boolean", "Whether anyone can mint"),
		optional("mint_open", "boolean", "Whether minting is open"),
		optional("max_supply", "integer", "Maximum supply of the collection"),
		optional("mint_fee", "integer", "Fee to mint a token"),
		optional("mint_fee_token", "string", "Token used for the mint fee"),
		optional("owner", "string", "Owner of the collection"),
	}},
	{"pay_royalty_on_behalf", "Pay royalties on behalf of one IP to another.", []param{
		required("receiver_ip_id", "string", "The IP receiving the royalty"),
		required("payer_ip_id", "string", "The IP paying the royalty"),
		required("token", "string", "The token used for payment"),
		required("amount", "integer", "The amount to pay"),
	}},
	{"claim_all_revenue", "Claim all revenue owed to an ancestor IP.", []param{
		required("ancestor_ip_id", "string", "The ancestor IP claiming revenue"),
		required("claimer", "string", "The address claiming the revenue"),
		optional("child_ip_ids", "string", "Comma-separated child IPs whose revenue is claimed"),
		optional("currency_tokens", "string", "Comma-separated tokens to claim"),
	}},
	{"deposit_wip", "Wrap IP tokens into WIP.", []param{
		required("amount", "integer", "The amount of IP to wrap, in wei"),
	}},
	{"transfer_wip", "Transfer WIP tokens to an address.", []param{
		required("to", "string", "The recipient address"),
		required("amount", "integer", "The amount of WIP to transfer, in wei"),
	}},
}

// storyToolbox provides datetime and every Story Protocol tool.
func storyToolbox() *tools.Toolbox {
	box := tools.NewToolbox()

	must(box.Provide(protocol.Tool{
		Name:        "datetime",
		Description: "Returns the current date and time in RFC3339 format.",
		Parameters:  protocol.ObjectSchema(),
	}, handleDatetime))

	for _, st := range storyTools {
		must(box.Provide(protocol.Tool{
			Name:        st.name,
			Description: st.description,
			Parameters:  protocol.ObjectSchema(st.params...),
		}, st.handle))
	}

	return box
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("failed to provide tool: %v", err))
	}
}

func handleDatetime(_ context.Context, _ json.RawMessage) (tools.Result, error) {
	return tools.Result{Content: time.Now().Format(time.RFC3339)}, nil
}

func (st storyTool) handle(_ context.Context, raw json.RawMessage) (tools.Result, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
		}
	}

	var missing []string
	for _, p := range st.params {
		if _, ok := args[p.Name]; p.Required && !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return tools.Result{Content: "missing required arguments: " + strings.Join(missing, ", "), IsError: true}, nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Dry run: %s was not submitted to the chain.", st.name)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %v", k, args[k])
	}
	return tools.Result{Content: b.String()}, nil
}
