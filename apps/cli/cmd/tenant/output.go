package tenantcmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// printTenant writes one directory record as aligned key/value lines.
// Connection details stay sealed and are never printed.
func printTenant(w io.Writer, t service.Tenant) error {
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Identifier:\t%s\n", t.Identifier)
	if t.DisplayName != nil {
		fmt.Fprintf(tw, "Display name:\t%s\n", *t.DisplayName)
	}
	fmt.Fprintf(tw, "State:\t%s\n", t.State)
	fmt.Fprintf(tw, "Schema:\t%s\n", t.SchemaName)
	fmt.Fprintf(tw, "Storage prefix:\t%s\n", t.BasePrefix)
	fmt.Fprintf(tw, "Descriptor version:\t%s\n", descriptorVersion(t))
	fmt.Fprintf(tw, "Version:\t%d\n", t.Version)
	fmt.Fprintf(tw, "Created:\t%s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Modified:\t%s\n", t.LastModifiedAt.Format(time.RFC3339))
	return tw.Flush()
}

func printTenants(w io.Writer, res service.ListResult) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tIDENTIFIER\tSTATE\tSCHEMA\tDESCRIPTOR")
	for _, t := range res.Tenants {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Identifier, t.State, t.SchemaName, descriptorVersion(t))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Page %d/%d, %d tenants total.\n", res.Page, max(res.TotalPages, 1), res.TotalItems)
	return err
}

func printStatus(w io.Writer, s service.ProvisioningStatus) error {
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "Tenant:\t%s (%s)\n", s.Tenant.Identifier, s.Tenant.ID)
	fmt.Fprintf(tw, "State:\t%s\n", s.Tenant.State)
	fmt.Fprintf(tw, "Role:\t%s\n", present(s.Store.RoleExists))
	fmt.Fprintf(tw, "Schema:\t%s\n", present(s.Store.SchemaExists))
	fmt.Fprintf(tw, "Migrations:\t%d/%d\n", s.Store.AppliedMigrations, s.Store.TotalMigrations)
	if s.StorageReady != nil {
		fmt.Fprintf(tw, "Storage:\t%s\n", ready(*s.StorageReady))
	} else {
		fmt.Fprintf(tw, "Storage:\tnot configured\n")
	}
	if s.Job != nil {
		fmt.Fprintf(tw, "Last run:\t%s (step %s)\n", s.Job.Outcome, s.Job.Step)
		if s.Job.Err != nil {
			fmt.Fprintf(tw, "Last error:\t%v\n", s.Job.Err)
		}
	}
	return tw.Flush()
}

func descriptorVersion(t service.Tenant) string {
	if t.Descriptor == nil {
		return "-"
	}
	return strconv.FormatInt(t.Descriptor.Version, 10)
}

func present(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func ready(ok bool) string {
	if ok {
		return "ready"
	}
	return "not ready"
}
