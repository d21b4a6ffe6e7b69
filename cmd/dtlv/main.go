// Command dtlv is a small REPL over a database directory: transact EDN
// tx-data, run Datalog queries, inspect entities, schema and stats.
package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/conn"
	"github.com/rk-forks/datalevin/datalevin/query"
	"github.com/rk-forks/datalevin/datalevin/store"
)

func main() {
	var (
		validate   bool
		entityTime bool
	)
	root := &cobra.Command{
		Use:   "dtlv <dir>",
		Short: "Interactive shell over a datalevin database directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := conn.Open(args[0], store.Options{
				ValidateData:   validate,
				AutoEntityTime: entityTime,
			}, nil)
			if err != nil {
				return err
			}
			defer c.Close()
			repl(c)
			return nil
		},
	}
	root.Flags().BoolVar(&validate, "validate", false, "check values against declared attribute types")
	root.Flags().BoolVar(&entityTime, "auto-entity-time", false, "stamp :db/created-at and :db/updated-at")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func repl(c *conn.Conn) {
	prompt := color.New(color.FgCyan, color.Bold)
	errc := color.New(color.FgRed)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)

	fmt.Println("dtlv shell: q <query>, tx <tx-data>, entity <eid>, search <text>, schema, stats, exit")
	for {
		prompt.Print("dtlv> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest := line, ""
		if i := strings.IndexByte(line, ' '); i >= 0 {
			cmd, rest = line[:i], strings.TrimSpace(line[i+1:])
		}
		switch cmd {
		case "exit", "quit":
			return
		case "q":
			res, err := c.Q(rest)
			if err != nil {
				errc.Println(err)
				continue
			}
			printResult(res.Vars, res.Tuples)
		case "tx":
			rep, err := c.Transact(rest)
			if err != nil {
				errc.Println(err)
				continue
			}
			fmt.Printf("%d datoms, tx %d\n", len(rep.TxData), rep.DBAfter.MaxTx)
			for _, d := range rep.TxData {
				fmt.Println("  " + d.String())
			}
		case "entity":
			var eid int64
			if _, err := fmt.Sscanf(rest, "%d", &eid); err != nil {
				errc.Println("entity expects a numeric eid")
				continue
			}
			m, err := c.Entity(eid)
			if err != nil {
				errc.Println(err)
				continue
			}
			printEntity(eid, m)
		case "search":
			matches, err := c.Search.Search(rest)
			if err != nil {
				errc.Println(err)
				continue
			}
			for _, m := range matches {
				fmt.Printf("  %v\t(doc %d, score %.1f)\n", m.Ref, m.DocID, m.Score)
			}
		case "schema":
			printSchema(c)
		case "stats":
			s, err := c.DB.CollectStats()
			if err != nil {
				errc.Println(err)
				continue
			}
			fmt.Printf("datoms %d, refs %d, max-eid %d, max-tx %d\n", s.Datoms, s.Refs, s.MaxEID, s.MaxTx)
		default:
			errc.Printf("unknown command %q\n", cmd)
		}
	}
}

func printResult(vars []query.Var, tuples [][]datalevin.Value) {
	table := tablewriter.NewTable(os.Stdout)
	headers := make([]string, len(vars))
	for i, v := range vars {
		headers[i] = string(v)
	}
	table.Header(headers)
	for _, t := range tuples {
		row := make([]string, len(t))
		for i, v := range t {
			row[i] = fmt.Sprintf("%v", v)
		}
		table.Append(row)
	}
	table.Render()
	fmt.Printf("%d rows\n", len(tuples))
}

func printSchema(c *conn.Conn) {
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"ident", "type", "card", "unique", "tuple-attrs"})
	for _, a := range c.DB.Schema().Attributes() {
		card := "one"
		if a.Cardinality == 1 {
			card = "many"
		}
		uniq := ""
		switch a.Unique {
		case 1:
			uniq = "value"
		case 2:
			uniq = "identity"
		}
		table.Append([]string{a.Ident, a.ValueType.String(), card, uniq, strings.Join(a.TupleAttrs, " ")})
	}
	table.Render()
}

func printEntity(eid int64, m map[datalevin.Keyword]datalevin.Value) {
	keys := make([]string, 0, len(m))
	byKey := map[string]datalevin.Value{}
	for k, v := range m {
		keys = append(keys, k.String())
		byKey[k.String()] = v
	}
	sort.Strings(keys)
	fmt.Printf("{:db/id %d\n", eid)
	for _, k := range keys {
		fmt.Printf(" %s %v\n", k, byKey[k])
	}
	fmt.Println("}")
}
